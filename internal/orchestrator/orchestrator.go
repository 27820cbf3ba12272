// ============================================================================
// Beaver-OCR 管線協調器 - 系統核心
// ============================================================================
//
// Package: internal/orchestrator
// 文件: orchestrator.go
// 功能: 協調所有模組，驅動從壓縮檔發現到結果提交的完整處理流程
//
// 架構設計:
//   這是整個系統的"大腦"，負責協調以下組件：
//   - Archive: 壓縮檔列舉與 PDF 解壓
//   - Rasterizer: 頁數統計與頁面光柵化
//   - Buffer: 以頁數為界的生產者/消費者緩衝
//   - Pool: Worker 池，將頁面分派到 OCR 後端
//   - Assembler: 按頁序重組文件並提交結果
//   - Checker: 三層完成度判定（索引 -> 帳冊 -> 快取）
//
// 文件狀態機:
//   DISCOVERED -> SKIPPED                   已在帳冊/快取中，直接跳過
//   DISCOVERED -> SIZE_CHECKED -> REJECTED  超過頁數上限，不記錄任何痕跡
//   DISCOVERED -> SIZE_CHECKED -> DISPATCHED -> ASSEMBLING -> COMMITTED
//
// 執行模型（每個壓縮檔）:
//   單一生產者 goroutine 依序解壓、計頁、光柵化並送入緩衝區；
//   Worker 池並發消費；生產結束後關閉緩衝區並等待排空，
//   最後持久化該壓縮檔的帳冊。
//
// 失敗原則:
//   只有設定錯誤（服務目錄不存在）是致命的。單一壓縮檔、單一文件、
//   單一頁面的失敗都被隔離：損壞的壓縮檔跳過，無法計頁或超限的文件
//   不留痕跡（下次執行重試），光柵化失敗的頁面以空槽提交。
//
// 職責說明：
//   1. 發現壓縮檔（<zip_root>/<service>/<year>/*.zip）
//   2. 逐壓縮檔建立緩衝區、組裝器與 Worker 池並驅動處理
//   3. 完成度查核與狀態機推進
//   4. 每個壓縮檔處理完畢後持久化帳冊
//
// ============================================================================

package orchestrator

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/beaver-ocr/internal/archive"
	"github.com/ChuLiYu/beaver-ocr/internal/assembler"
	"github.com/ChuLiYu/beaver-ocr/internal/buffer"
	"github.com/ChuLiYu/beaver-ocr/internal/cache"
	"github.com/ChuLiYu/beaver-ocr/internal/dispatch"
	"github.com/ChuLiYu/beaver-ocr/internal/index"
	"github.com/ChuLiYu/beaver-ocr/internal/ledger"
	"github.com/ChuLiYu/beaver-ocr/internal/metrics"
	"github.com/ChuLiYu/beaver-ocr/internal/ocr"
	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Orchestrator 配置
type Config struct {
	Service string // 服務名稱（壓縮檔根目錄下的子目錄）
	Year    string // 限定處理的年份；空字串表示全部年份

	ZipRoot string // 壓縮檔根目錄
	OCRRoot string // 輸出根目錄（cache/ 與 json/ 的父目錄）

	MaxPages    int  // 單一文件頁數上限，超過即拒絕
	DPI         int  // 光柵化解析度
	BatchSize   int  // 每次光柵化的頁數
	BufferPages int  // 緩衝區頁數上限
	Workers     int  // Worker 數量
	PersistEach bool // 每份文件提交後立即持久化帳冊

	Client     *ocr.Client
	Rasterizer archive.Rasterizer

	Collector *metrics.Collector
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.DPI <= 0 {
		c.DPI = 200
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.BufferPages <= 0 {
		c.BufferPages = 16
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Orchestrator 管線協調器
type Orchestrator struct {
	cfg Config
	idx *index.Index
	log *slog.Logger
}

// Stats 單次執行的彙總統計
type Stats struct {
	Archives   int // 處理的壓縮檔數
	Dispatched int // 本次送入管線的文件數
	Skipped    int // 已完成而跳過的文件數
	Rejected   int // 超過頁數上限的文件數
	Failed     int // 無法處理（解壓/計頁失敗）的文件數
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立 Orchestrator
func New(cfg Config) (*Orchestrator, error) {
	cfg.defaults()
	if cfg.Service == "" {
		return nil, fmt.Errorf("service is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("ocr client is required")
	}
	if cfg.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	return &Orchestrator{
		cfg: cfg,
		idx: index.NewIndex(),
		log: cfg.Logger,
	}, nil
}

// Run 執行完整管線
//
// 服務目錄不存在時回傳錯誤；其餘失敗都被隔離並記錄在 Stats 中
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	serviceDir := filepath.Join(o.cfg.ZipRoot, o.cfg.Service)
	if fi, err := os.Stat(serviceDir); err != nil || !fi.IsDir() {
		return stats, fmt.Errorf("service directory %s not found", serviceDir)
	}

	// 啟動時重建全域完成索引，涵蓋所有服務與年份
	o.idx.Build(o.cfg.OCRRoot, o.log)
	o.log.Info("finished-file index built", "entries", o.idx.Len())

	years, err := o.discoverYears(serviceDir)
	if err != nil {
		return stats, err
	}
	if len(years) == 0 {
		o.log.Warn("no year directories found", "service", o.cfg.Service)
		return stats, nil
	}

	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := o.runYear(ctx, serviceDir, year, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// yearDir 年份目錄與其正規化後的年份
type yearDir struct {
	dirName string // 磁碟上的目錄名（可能是佛曆）
	year    string // 正規化後的西元年份，作為輸出路徑用
}

// discoverYears 列出服務目錄下的年份子目錄，依年份排序
func (o *Orchestrator) discoverYears(serviceDir string) ([]yearDir, error) {
	entries, err := os.ReadDir(serviceDir)
	if err != nil {
		return nil, fmt.Errorf("read service dir: %w", err)
	}

	var years []yearDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		year, ok := normalizeYear(e.Name())
		if !ok {
			o.log.Warn("ignoring non-year directory", "dir", e.Name())
			continue
		}
		if o.cfg.Year != "" && year != o.cfg.Year {
			continue
		}
		years = append(years, yearDir{dirName: e.Name(), year: year})
	}
	sort.Slice(years, func(i, j int) bool { return years[i].year < years[j].year })
	return years, nil
}

// runYear 處理一個年份下的所有壓縮檔
func (o *Orchestrator) runYear(ctx context.Context, serviceDir string, yd yearDir, stats *Stats) error {
	zips, err := filepath.Glob(filepath.Join(serviceDir, yd.dirName, "*.zip"))
	if err != nil {
		return fmt.Errorf("list archives for %s: %w", yd.year, err)
	}
	sort.Strings(zips)
	if len(zips) == 0 {
		o.log.Warn("no archives in year directory", "year", yd.year)
		return nil
	}

	led := ledger.Load(o.cfg.OCRRoot, o.cfg.Service, yd.year, o.log)
	store := cache.NewStore(o.cfg.OCRRoot, o.cfg.Service, yd.year, o.log)
	checker := index.NewChecker(o.idx, led, store, o.cfg.Service, yd.year)

	o.log.Info("processing year",
		"service", o.cfg.Service, "year", yd.year,
		"archives", len(zips), "already_ledgered", led.DocCount())

	for _, zipPath := range zips {
		if err := ctx.Err(); err != nil {
			// 中斷前保留已提交文件的帳冊
			if perr := led.Persist(); perr != nil {
				o.log.Error("failed to persist ledger on shutdown", "error", perr)
			}
			return err
		}
		o.processArchive(ctx, zipPath, yd, led, store, checker, stats)
		stats.Archives++

		if err := led.Persist(); err != nil {
			o.log.Error("failed to persist ledger",
				"year", yd.year, "archive", filepath.Base(zipPath), "error", err)
		}
	}
	return nil
}

// processArchive 處理單一壓縮檔：生產者解壓光柵化，Worker 池消費
func (o *Orchestrator) processArchive(ctx context.Context, zipPath string, yd yearDir,
	led *ledger.Ledger, store *cache.Store, checker *index.Checker, stats *Stats) {

	arc, err := archive.Open(zipPath)
	if err != nil {
		o.log.Warn("skipping unreadable archive", "archive", filepath.Base(zipPath), "error", err)
		return
	}
	defer arc.Close()

	workDir, err := os.MkdirTemp("", "beaver-ocr-*")
	if err != nil {
		o.log.Error("failed to create work dir", "error", err)
		return
	}
	defer os.RemoveAll(workDir)

	buf := buffer.New(o.cfg.BufferPages)
	buf.SetObserver(o.cfg.Collector.SetBufferedPages)

	asm := assembler.New(assembler.Config{
		Store:       store,
		Ledger:      led,
		Index:       o.idx,
		PersistEach: o.cfg.PersistEach,
		Collector:   o.cfg.Collector,
		Logger:      o.log,
	})

	pool := dispatch.NewPool(buf, o.cfg.Client, asm, o.cfg.Workers, o.cfg.Collector, o.log)
	pool.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.produce(gctx, arc, workDir, yd, checker, asm, buf, stats)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		o.log.Error("producer stopped early", "archive", arc.Name(), "error", err)
	}
	buf.Close()
	pool.Wait()

	// 取消時尚未集齊的文件直接放棄，不寫入任何持久層
	if dropped := asm.Abandon(); len(dropped) > 0 {
		o.log.Warn("abandoned incomplete documents",
			"archive", arc.Name(), "count", len(dropped))
	}

	committed := led.DocCount()
	o.log.Info("archive processed",
		"archive", arc.Name(), "year", yd.year, "ledgered_total", committed)
}

// produce 生產者：逐文件解壓、查核、計頁、光柵化並送入緩衝區
func (o *Orchestrator) produce(ctx context.Context, arc *archive.Archive, workDir string,
	yd yearDir, checker *index.Checker, asm *assembler.Assembler, buf *buffer.Buffer, stats *Stats) error {

	for _, member := range arc.PDFs() {
		if err := ctx.Err(); err != nil {
			return err
		}

		// DISCOVERED -> SKIPPED
		if checker.IsComplete(arc.Name(), member.Name) {
			o.cfg.Collector.RecordSkip()
			stats.Skipped++
			o.log.Debug("skipping completed document", "doc", member.Name)
			continue
		}

		if err := o.produceDocument(ctx, arc, workDir, yd, member, asm, buf, stats); err != nil {
			if ctx.Err() != nil {
				return err
			}
			stats.Failed++
			o.log.Warn("document failed before dispatch",
				"archive", arc.Name(), "doc", member.Name, "error", err)
		}
	}
	return nil
}

// produceDocument 單一文件的 SIZE_CHECKED -> DISPATCHED 流程
func (o *Orchestrator) produceDocument(ctx context.Context, arc *archive.Archive, workDir string,
	yd yearDir, member archive.Member, asm *assembler.Assembler, buf *buffer.Buffer, stats *Stats) error {

	pdfPath, err := arc.Extract(workDir, member)
	if err != nil {
		return err
	}
	defer os.Remove(pdfPath)

	// SIZE_CHECKED：計頁失敗的文件不留痕跡，下次執行重試
	pages, err := o.cfg.Rasterizer.PageCount(ctx, pdfPath)
	if err != nil {
		return err
	}
	if pages <= 0 {
		return fmt.Errorf("document %s has no pages", member.Name)
	}

	// REJECTED：超限文件同樣不寫入任何持久層
	if pages > o.cfg.MaxPages {
		o.cfg.Collector.RecordReject()
		stats.Rejected++
		o.log.Warn("rejecting oversized document",
			"doc", member.Name, "pages", pages, "max_pages", o.cfg.MaxPages)
		return nil
	}

	ref := types.DocumentRef{
		Service: o.cfg.Service,
		Year:    yd.year,
		Archive: arc.Name(),
		Name:    member.Name,
	}
	if err := asm.Track(ref, pages); err != nil {
		return err
	}
	stats.Dispatched++

	// DISPATCHED：分批光柵化，邊渲染邊送入緩衝區以限制駐留頁數
	for first := 1; first <= pages; first += o.cfg.BatchSize {
		last := first + o.cfg.BatchSize - 1
		if last > pages {
			last = pages
		}

		images, err := o.cfg.Rasterizer.Render(ctx, pdfPath, first, last, o.cfg.DPI)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 渲染失敗的批次以空槽位送出，讓文件仍能集齊並提交
			o.log.Warn("batch rasterization failed",
				"doc", member.Name, "pages", fmt.Sprintf("%d-%d", first, last), "error", err)
			images = make([]image.Image, last-first+1)
		}

		batch := types.PageBatch{
			Doc:        ref,
			StartIndex: first - 1,
			Images:     images,
			TotalPages: pages,
		}
		if err := buf.Put(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// 年份正規化
// ============================================================================

// normalizeYear 將目錄名轉為西元年份
// 佛曆年份（>= 2400）自動換算為西元；非數字目錄名回傳 false
func normalizeYear(name string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(name))
	if err != nil || n < 1000 || n > 9999 {
		return "", false
	}
	if n >= 2400 {
		n -= 543
	}
	return strconv.Itoa(n), true
}
