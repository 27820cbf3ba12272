// ============================================================================
// Beaver-OCR Worker Pool - Concurrent Page Dispatch
// ============================================================================
//
// Package: internal/dispatch
// File: pool.go
// Purpose: Fixed-size pool of workers that drain the page buffer, call the
//          OCR backend and hand per-page results to the assembler.
//
// Execution model:
//   Each worker is an independent goroutine running the same loop:
//   1. batch = buffer.Get()   (blocks while empty; exits on close/cancel)
//   2. for each page in the batch: call the backend, classify the outcome
//   3. sink.Deliver(result)
//
// Failure isolation:
//   A failed call produces a ResultFailed with empty text for that page
//   only; the worker never stops, sibling pages of the same document are
//   unaffected, and no error propagates past the pool.
//
// Resource discipline:
//   The rasterized image reference is dropped (slice slot nilled) as soon
//   as the page has been handled, success or failure, so page images become
//   collectable without waiting for the whole batch.
//
// ============================================================================

package dispatch

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-ocr/internal/buffer"
	"github.com/ChuLiYu/beaver-ocr/internal/metrics"
	"github.com/ChuLiYu/beaver-ocr/internal/ocr"
	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// ResultSink 接收頁面結果的下游（由 assembler 實作）
type ResultSink interface {
	Deliver(res types.PageResult)
}

// Pool Worker 池
type Pool struct {
	buf     *buffer.Buffer
	client  *ocr.Client
	sink    ResultSink
	workers int

	collector *metrics.Collector
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewPool 建立 Worker 池；workers 必須 >= 1
func NewPool(buf *buffer.Buffer, client *ocr.Client, sink ResultSink, workers int,
	collector *metrics.Collector, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		buf:       buf,
		client:    client,
		sink:      sink,
		workers:   workers,
		collector: collector,
		logger:    logger,
	}
}

// Start 啟動所有 worker goroutine
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait 等待所有 worker 退出
// worker 在緩衝區關閉且排空、或 ctx 取消時退出
func (p *Pool) Wait() {
	p.wg.Wait()
}

// run worker 主循環
func (p *Pool) run(ctx context.Context, id int) {
	for {
		batch, ok := p.buf.Get(ctx)
		if !ok {
			return
		}
		p.collector.RecordDispatch(batch.PageCount())

		for i := range batch.Images {
			img := batch.Images[i]
			batch.Images[i] = nil // 用畢即釋放影像引用

			pageIndex := batch.StartIndex + i
			res := p.processPage(ctx, batch.Doc, pageIndex, img)
			p.collector.RecordPage(res.Kind, res.Latency.Seconds())
			p.logger.Debug("page processed",
				"worker", id,
				"doc", res.Doc.Key(),
				"page", pageIndex,
				"kind", res.Kind,
				"latency", res.Latency.Round(time.Millisecond))
			p.sink.Deliver(res)
		}
	}
}

// processPage 處理單頁：呼叫後端並分類結果
func (p *Pool) processPage(ctx context.Context, doc types.DocumentRef, pageIndex int, img image.Image) types.PageResult {
	res := types.PageResult{Doc: doc, Index: pageIndex}

	if img == nil {
		// 光柵化階段已失敗的頁面，仍需佔一個槽位
		res.Kind = types.ResultFailed
		res.Reason = "rasterization failed"
		return res
	}

	start := time.Now()
	text, err := p.client.Recognize(ctx, img)
	res.Latency = time.Since(start)

	switch {
	case err != nil:
		res.Kind = types.ResultFailed
		res.Reason = err.Error()
	case text == "":
		res.Kind = types.ResultEmpty
	default:
		res.Kind = types.ResultOK
		res.Text = text
	}
	return res
}
