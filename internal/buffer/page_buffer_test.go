package buffer

// ============================================================================
// Page Buffer Test File
// Purpose: Verify page-count bounding, FIFO order, blocking semantics and
//          MPMC safety
// ============================================================================

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// testBatch builds a batch carrying n dummy pages
func testBatch(doc string, start, n, total int) types.PageBatch {
	imgs := make([]image.Image, n)
	for i := range imgs {
		imgs[i] = image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	return types.PageBatch{
		Doc:        types.DocumentRef{Service: "svc", Year: "2024", Archive: "a.zip", Name: doc},
		StartIndex: start,
		Images:     imgs,
		TotalPages: total,
	}
}

func TestPutGetFIFO(t *testing.T) {
	b := New(16)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Put(ctx, testBatch(fmt.Sprintf("doc-%d.pdf", i), 0, 2, 2)))
	}
	assert.Equal(t, 10, b.Pages())

	for i := 0; i < 5; i++ {
		batch, ok := b.Get(ctx)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("doc-%d.pdf", i), batch.Doc.Name)
	}
	assert.Equal(t, 0, b.Pages())
}

func TestPutBlocksAtCapacity(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, testBatch("a.pdf", 0, 4, 4)))

	blocked := make(chan error, 1)
	go func() {
		blocked <- b.Put(ctx, testBatch("b.pdf", 0, 1, 1))
	}()

	// The second Put must not complete while the buffer is full.
	select {
	case err := <-blocked:
		t.Fatalf("Put returned while buffer full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := b.Get(ctx)
	require.True(t, ok)

	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Get")
	}
}

func TestGetBlocksWhenEmpty(t *testing.T) {
	b := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := b.Get(ctx)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBatchTooLarge(t *testing.T) {
	b := New(2)
	err := b.Put(context.Background(), testBatch("a.pdf", 0, 3, 3))
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestCloseDrains(t *testing.T) {
	b := New(8)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, testBatch("a.pdf", 0, 1, 1)))
	require.NoError(t, b.Put(ctx, testBatch("b.pdf", 0, 1, 1)))
	b.Close()

	// Queued items stay retrievable after Close.
	_, ok := b.Get(ctx)
	assert.True(t, ok)
	_, ok = b.Get(ctx)
	assert.True(t, ok)

	// Then Get reports closed.
	_, ok = b.Get(ctx)
	assert.False(t, ok)

	// Put after Close is rejected.
	assert.ErrorIs(t, b.Put(ctx, testBatch("c.pdf", 0, 1, 1)), ErrClosed)
}

// TestConcurrentBound hammers the buffer with concurrent producers and
// consumers and verifies the page count never exceeds capacity and never
// goes negative.
func TestConcurrentBound(t *testing.T) {
	const capacity = 8
	b := New(capacity)
	ctx := context.Background()

	var maxSeen atomic.Int64
	var minSeen atomic.Int64
	b.SetObserver(func(pages int) {
		p := int64(pages)
		for {
			cur := maxSeen.Load()
			if p <= cur || maxSeen.CompareAndSwap(cur, p) {
				break
			}
		}
		for {
			cur := minSeen.Load()
			if p >= cur || minSeen.CompareAndSwap(cur, p) {
				break
			}
		}
	})

	const producers = 4
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				n := 1 + (i % 3)
				_ = b.Put(ctx, testBatch(fmt.Sprintf("p%d-%d.pdf", p, i), 0, n, n))
			}
		}(p)
	}

	var consumed atomic.Int64
	var cwg sync.WaitGroup
	for c := 0; c < 3; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				batch, ok := b.Get(ctx)
				if !ok {
					return
				}
				consumed.Add(int64(batch.PageCount()))
			}
		}()
	}

	wg.Wait()
	b.Close()
	cwg.Wait()

	totalPages := int64(0)
	for i := 0; i < perProducer; i++ {
		totalPages += int64(1 + (i % 3))
	}
	totalPages *= producers

	assert.Equal(t, totalPages, consumed.Load())
	assert.LessOrEqual(t, maxSeen.Load(), int64(capacity))
	assert.GreaterOrEqual(t, minSeen.Load(), int64(0))
	assert.Equal(t, 0, b.Pages())
}
