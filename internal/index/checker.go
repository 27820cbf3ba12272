// ============================================================================
// Beaver-OCR Completion Checker - Unified Skip Check
// ============================================================================
//
// Package: internal/index
// File: checker.go
// Purpose: Single IsComplete capability composed from the three completion
//          signals (global index, archive-group ledger, result cache), so
//          callers never duplicate the reconciliation logic.
//
// Reconciliation rules:
//   - Index hit      -> complete (fast path, no file IO)
//   - Ledger hit     -> complete, backfill the index
//   - Cache hit only -> complete, backfill ledger AND index (a parseable
//                       cache entry is sufficient proof of completion even
//                       when the ledger lost track of it)
//
// ============================================================================

package index

import (
	"github.com/ChuLiYu/beaver-ocr/internal/cache"
	"github.com/ChuLiYu/beaver-ocr/internal/ledger"
)

// Checker 單一 archive-group 的完成查核器
type Checker struct {
	idx     *Index
	led     *ledger.Ledger
	store   *cache.Store
	service string
	year    string
}

// NewChecker 建立查核器；idx 可為 nil（略過全域索引層）
func NewChecker(idx *Index, led *ledger.Ledger, store *cache.Store, service, year string) *Checker {
	return &Checker{idx: idx, led: led, store: store, service: service, year: year}
}

// IsComplete 檢查文件是否已完成，並在較慢的訊號命中時回填較快的訊號
func (c *Checker) IsComplete(zipName, docName string) bool {
	if c.idx != nil && c.idx.Contains(c.service, c.year, docName) {
		return true
	}

	if c.led.Contains(zipName, docName) {
		if c.idx != nil {
			c.idx.Mark(c.service, c.year, docName)
		}
		return true
	}

	if entry := c.store.Load(docName); entry != nil {
		c.led.Record(zipName, docName)
		if c.idx != nil {
			c.idx.Mark(c.service, c.year, docName)
		}
		return true
	}

	return false
}
