// ============================================================================
// Beaver-OCR Document Assembler - Fan-In and Commit
// ============================================================================
//
// Package: internal/assembler
// File: assembler.go
// Purpose: Accumulate per-page OCR results for each in-flight document,
//          detect completion, and commit the assembled text.
//
// 職責說明：
// 1. 每份派工中的文件維護固定長度的 slot 陣列與完成計數
// 2. 同一 (document, page) 的重複結果為 no-op（at-most-once slot fill）
// 3. 完成條件：completed == total pages；完成後依頁序以空行串接、
//    寫入結果快取，再記錄帳冊與全域索引，最後丟棄記憶體狀態
// 4. 局部失敗策略（固定，不混用）：呼叫失敗的頁面以空字串入列，
//    文件仍會完成並提交——寧可留缺口，不可永久卡住
//
// Concurrency: the docs map and every slot array are only touched under a
// single mutex; commit file IO happens outside the lock after the document
// has been removed from the map, so a late duplicate delivery simply finds
// nothing to fill.
//
// ============================================================================

package assembler

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-ocr/internal/cache"
	"github.com/ChuLiYu/beaver-ocr/internal/index"
	"github.com/ChuLiYu/beaver-ocr/internal/ledger"
	"github.com/ChuLiYu/beaver-ocr/internal/metrics"
	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// pending 組裝中的文件狀態
type pending struct {
	ref     types.DocumentRef
	slots   []string // 依頁序排列的文字槽
	filled  []bool   // 槽位是否已填入
	done    int      // 已填槽數
	failed  int      // 失敗頁數（觀察用）
	started time.Time
}

// Assembler 文件組裝器
type Assembler struct {
	mu   sync.Mutex
	docs map[string]*pending // key: DocumentRef.Key()

	store       *cache.Store
	led         *ledger.Ledger
	idx         *index.Index
	persistEach bool // 每份文件提交後立即持久化帳冊

	collector *metrics.Collector
	logger    *slog.Logger
}

// Config 組裝器依賴
type Config struct {
	Store       *cache.Store
	Ledger      *ledger.Ledger
	Index       *index.Index // 可為 nil
	PersistEach bool
	Collector   *metrics.Collector // 可為 nil
	Logger      *slog.Logger
}

// New 建立組裝器
func New(cfg Config) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		docs:        make(map[string]*pending),
		store:       cfg.Store,
		led:         cfg.Ledger,
		idx:         cfg.Index,
		persistEach: cfg.PersistEach,
		collector:   cfg.Collector,
		logger:      logger,
	}
}

// Track 登記一份文件進入組裝（DISPATCHED -> ASSEMBLING）
// 同一文件重複登記回傳錯誤；completed/skipped 後不得再登記
func (a *Assembler) Track(ref types.DocumentRef, totalPages int) error {
	if totalPages <= 0 {
		return fmt.Errorf("document %s has no pages", ref.Key())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.docs[ref.Key()]; exists {
		return fmt.Errorf("document %s already tracked", ref.Key())
	}
	a.docs[ref.Key()] = &pending{
		ref:     ref,
		slots:   make([]string, totalPages),
		filled:  make([]bool, totalPages),
		started: time.Now(),
	}
	a.collector.IncInFlightDocs()
	return nil
}

// Deliver 接收一頁結果；文件集齊後觸發提交
//
// 對未登記（或已提交）文件、越界索引、重複頁面的投遞皆為 no-op，
// 保證 at-most-once slot fill
func (a *Assembler) Deliver(res types.PageResult) {
	a.mu.Lock()

	p, ok := a.docs[res.Doc.Key()]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("result for untracked document ignored",
			"doc", res.Doc.Key(), "page", res.Index)
		return
	}
	if res.Index < 0 || res.Index >= len(p.slots) {
		a.mu.Unlock()
		a.logger.Warn("result with out-of-range page index ignored",
			"doc", res.Doc.Key(), "page", res.Index, "pages", len(p.slots))
		return
	}
	if p.filled[res.Index] {
		a.mu.Unlock()
		return
	}

	// 失敗頁面以空字串入列（留缺口策略）
	p.slots[res.Index] = res.Text
	p.filled[res.Index] = true
	p.done++
	if res.Kind == types.ResultFailed {
		p.failed++
	}

	complete := p.done == len(p.slots)
	if complete {
		// 先從 map 移除再提交，遲到的重複投遞自然落空
		delete(a.docs, res.Doc.Key())
	}
	a.mu.Unlock()

	if complete {
		a.commit(p)
	}
}

// Pending 回傳尚未集齊的文件鍵（取消 / 除錯用）
func (a *Assembler) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.docs))
	for k := range a.docs {
		keys = append(keys, k)
	}
	return keys
}

// Abandon 丟棄所有未集齊的文件並回傳其鍵
// 被丟棄的文件不寫快取、不記帳冊，下次執行會整份重做
func (a *Assembler) Abandon() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.docs))
	for k := range a.docs {
		keys = append(keys, k)
		a.collector.DecInFlightDocs()
	}
	a.docs = make(map[string]*pending)
	return keys
}

// commit 提交一份集齊的文件：快取 -> 帳冊 -> 全域索引
func (a *Assembler) commit(p *pending) {
	text := strings.TrimSpace(strings.Join(p.slots, "\n\n"))
	elapsed := time.Since(p.started)

	entry := &types.CacheEntry{
		Filename: p.ref.Name,
		Pages:    len(p.slots),
		Text:     text,
		TimeSec:  math.Round(elapsed.Seconds()*100) / 100,
	}

	if err := a.store.Save(entry); err != nil {
		// 快取寫入失敗時不得記入帳冊，否則會謊報完成
		a.logger.Error("cache write failed, document left uncommitted",
			"doc", p.ref.Key(), "error", err)
		a.collector.DecInFlightDocs()
		return
	}

	a.led.Record(p.ref.Archive, p.ref.Name)
	if a.persistEach {
		if err := a.led.Persist(); err != nil {
			a.logger.Warn("per-document ledger persist failed",
				"doc", p.ref.Key(), "error", err)
		}
	}
	if a.idx != nil {
		a.idx.Mark(p.ref.Service, p.ref.Year, p.ref.Name)
	}

	a.collector.RecordCommit()
	a.collector.DecInFlightDocs()
	a.logger.Info("document committed",
		"doc", p.ref.Key(),
		"pages", len(p.slots),
		"failed_pages", p.failed,
		"elapsed", elapsed.Round(10*time.Millisecond))
}
