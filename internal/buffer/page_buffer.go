// ============================================================================
// Beaver-OCR Page Buffer - Bounded Producer/Consumer Queue
// ============================================================================
//
// Package: internal/buffer
// File: page_buffer.go
// Purpose: Decouple page rasterization (CPU/memory heavy) from OCR dispatch
//          (network bound), bounding memory by total buffered PAGES rather
//          than item count (one item may batch several pages).
//
// 職責說明：
// 1. Put 在緩衝頁數達到上限時阻塞，Get 在緩衝區為空時阻塞
// 2. 以 semaphore.Weighted 管理頁數額度，FIFO 順序由帶緩衝 channel 保證
// 3. 多生產者 / 多消費者安全；緩衝區本身永不丟棄項目
// 4. Close 之後 Get 取完剩餘項目會回傳 ok=false，讓 worker 自然退出
//
// Capacity argument: every queued item holds at least one page permit, so at
// most `maxPages` items can be in flight; the FIFO channel is sized to
// maxPages and a Put that already holds its permits can never block on it.
//
// ============================================================================

package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

var (
	// ErrBatchTooLarge 表示單一批次攜帶的頁數超過緩衝區總容量
	ErrBatchTooLarge = errors.New("page batch exceeds buffer capacity")
	// ErrClosed 表示緩衝區已關閉，不再接受新項目
	ErrClosed = errors.New("page buffer is closed")
)

// Buffer 有界頁面緩衝區
type Buffer struct {
	maxPages int64
	sem      *semaphore.Weighted  // 頁數額度
	ch       chan types.PageBatch // FIFO 佇列
	pages    atomic.Int64         // 目前緩衝的頁數（供測試與指標觀察）

	mu       sync.Mutex
	closed   bool
	observer func(pages int) // 選配：頁數變動回呼（接指標 gauge）
}

// New 建立容量為 maxPages 頁的緩衝區
func New(maxPages int) *Buffer {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &Buffer{
		maxPages: int64(maxPages),
		sem:      semaphore.NewWeighted(int64(maxPages)),
		ch:       make(chan types.PageBatch, maxPages),
	}
}

// SetObserver 設定頁數變動回呼，必須在 Put/Get 開始前呼叫
func (b *Buffer) SetObserver(fn func(pages int)) {
	b.observer = fn
}

// Put 將批次放入緩衝區；緩衝頁數達上限時阻塞至有空間或 ctx 取消
func (b *Buffer) Put(ctx context.Context, batch types.PageBatch) error {
	n := int64(batch.PageCount())
	if n == 0 {
		return nil
	}
	if n > b.maxPages {
		return ErrBatchTooLarge
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := b.sem.Acquire(ctx, n); err != nil {
		return err
	}

	// 已取得頁數額度，channel 容量保證此處不會阻塞
	b.ch <- batch
	b.notify(b.pages.Add(n))
	return nil
}

// Get 取出最舊的批次；緩衝區為空時阻塞
// 回傳 ok=false 表示緩衝區已關閉且排空，或 ctx 已取消
func (b *Buffer) Get(ctx context.Context) (types.PageBatch, bool) {
	select {
	case batch, ok := <-b.ch:
		if !ok {
			return types.PageBatch{}, false
		}
		n := int64(batch.PageCount())
		b.notify(b.pages.Add(-n))
		b.sem.Release(n)
		return batch, true
	case <-ctx.Done():
		return types.PageBatch{}, false
	}
}

// Close 關閉緩衝區；已入隊的項目仍可被 Get 取出
// 重複呼叫為 no-op
//
// 呼叫約定：Close 必須在所有 Put 返回之後才呼叫（生產者自行關閉），
// 與 Put 並發呼叫會有 send-on-closed-channel 的風險
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Pages 回傳目前緩衝的頁數
func (b *Buffer) Pages() int {
	return int(b.pages.Load())
}

// Capacity 回傳緩衝區的頁數上限
func (b *Buffer) Capacity() int {
	return int(b.maxPages)
}

func (b *Buffer) notify(pages int64) {
	if b.observer != nil {
		b.observer(int(pages))
	}
}
