package endpoint

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectorEmpty(t *testing.T) {
	_, err := NewSelector(nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestRotationOrder(t *testing.T) {
	s, err := NewSelector([]string{
		"http://localhost:11434/",
		"http://localhost:11435",
		"http://localhost:11436",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	// Trailing slash stripped, fixed cyclic order.
	want := []string{
		"http://localhost:11434",
		"http://localhost:11435",
		"http://localhost:11436",
		"http://localhost:11434",
		"http://localhost:11435",
	}
	for i, w := range want {
		assert.Equal(t, w, s.Next(), "call %d", i)
	}
}

// TestConcurrentRotation verifies that under concurrent callers every
// endpoint receives an equal share of a whole number of cycles.
func TestConcurrentRotation(t *testing.T) {
	urls := []string{"http://a", "http://b", "http://c", "http://d"}
	s, err := NewSelector(urls)
	require.NoError(t, err)

	const goroutines = 8
	const perGoroutine = 100 // total 800 calls = 200 full cycles

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[string]int)
			for i := 0; i < perGoroutine; i++ {
				local[s.Next()]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, u := range urls {
		assert.Equal(t, goroutines*perGoroutine/len(urls), counts[u], "endpoint %s", u)
	}
}
