// ============================================================================
// Beaver-OCR Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose pipeline metrics for Prometheus scraping.
//
// 指標分類:
//
//   1. 頁面計數器 (Counter):
//      - ocr_pages_dispatched_total: 已派工頁面總數
//      - ocr_pages_completed_total{kind}: 已完成頁面總數，kind = ok|empty|failed
//
//   2. 文件計數器 (Counter):
//      - ocr_documents_committed_total: 已提交快取的文件總數
//      - ocr_documents_skipped_total: 因已完成而跳過的文件總數
//      - ocr_documents_rejected_total: 因頁數超限被拒絕的文件總數
//
//   3. 性能指標 (Histogram):
//      - ocr_page_latency_seconds: 單頁後端呼叫延遲分佈
//
//   4. 狀態指標 (Gauge):
//      - ocr_buffered_pages: 頁面緩衝區目前佔用頁數
//      - ocr_documents_in_flight: 組裝中的文件數
//
// HTTP 端點: /metrics，由 internal/cli 掛載 promhttp
//
// ============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// Collector Prometheus 指標收集器
// nil *Collector 的所有方法皆為 no-op，方便在測試中省略指標
type Collector struct {
	pagesDispatched prometheus.Counter
	pagesCompleted  *prometheus.CounterVec

	docsCommitted prometheus.Counter
	docsSkipped   prometheus.Counter
	docsRejected  prometheus.Counter

	pageLatency prometheus.Histogram

	bufferedPages prometheus.Gauge
	docsInFlight  prometheus.Gauge
}

// NewCollector 創建並註冊指標收集器
// reg 為 nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		pagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_pages_dispatched_total",
			Help: "Total number of pages dispatched to OCR workers",
		}),
		pagesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocr_pages_completed_total",
			Help: "Total number of pages completed, by result kind",
		}, []string{"kind"}),
		docsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_documents_committed_total",
			Help: "Total number of documents committed to the result cache",
		}),
		docsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_documents_skipped_total",
			Help: "Total number of documents skipped as already complete",
		}),
		docsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocr_documents_rejected_total",
			Help: "Total number of documents rejected for exceeding the page limit",
		}),
		pageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocr_page_latency_seconds",
			Help:    "Per-page OCR backend call latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		bufferedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocr_buffered_pages",
			Help: "Current number of rasterized pages held in the buffer",
		}),
		docsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocr_documents_in_flight",
			Help: "Current number of documents being assembled",
		}),
	}

	reg.MustRegister(
		c.pagesDispatched,
		c.pagesCompleted,
		c.docsCommitted,
		c.docsSkipped,
		c.docsRejected,
		c.pageLatency,
		c.bufferedPages,
		c.docsInFlight,
	)
	return c
}

// RecordDispatch 記錄頁面派工
func (c *Collector) RecordDispatch(pages int) {
	if c == nil {
		return
	}
	c.pagesDispatched.Add(float64(pages))
}

// RecordPage 記錄單頁完成與延遲
func (c *Collector) RecordPage(kind types.ResultKind, latencySeconds float64) {
	if c == nil {
		return
	}
	c.pagesCompleted.WithLabelValues(string(kind)).Inc()
	c.pageLatency.Observe(latencySeconds)
}

// RecordCommit 記錄文件提交
func (c *Collector) RecordCommit() {
	if c == nil {
		return
	}
	c.docsCommitted.Inc()
}

// RecordSkip 記錄文件跳過
func (c *Collector) RecordSkip() {
	if c == nil {
		return
	}
	c.docsSkipped.Inc()
}

// RecordReject 記錄文件拒絕
func (c *Collector) RecordReject() {
	if c == nil {
		return
	}
	c.docsRejected.Inc()
}

// SetBufferedPages 更新緩衝頁數
func (c *Collector) SetBufferedPages(pages int) {
	if c == nil {
		return
	}
	c.bufferedPages.Set(float64(pages))
}

// IncInFlightDocs 組裝中文件 +1
func (c *Collector) IncInFlightDocs() {
	if c == nil {
		return
	}
	c.docsInFlight.Inc()
}

// DecInFlightDocs 組裝中文件 -1
func (c *Collector) DecInFlightDocs() {
	if c == nil {
		return
	}
	c.docsInFlight.Dec()
}
