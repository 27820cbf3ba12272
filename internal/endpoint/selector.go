// ============================================================================
// Beaver-OCR Endpoint Selector - Round-Robin Backend Rotation
// ============================================================================
//
// Package: internal/endpoint
// File: selector.go
// Purpose: Distribute OCR calls across a fixed set of backend base URLs.
//
// The selector owns its rotation cursor as an explicit injected component
// (no ambient global state). It deliberately has no per-endpoint health
// awareness; a dead endpoint keeps receiving its share of the rotation and
// the per-call retry in the OCR client absorbs those failures.
//
// ============================================================================

package endpoint

import (
	"errors"
	"strings"
	"sync/atomic"
)

// ErrNoEndpoints 表示未配置任何後端位址
var ErrNoEndpoints = errors.New("no endpoints configured")

// Selector 以固定循環順序輪選後端位址，cursor 為共享的原子計數器
type Selector struct {
	urls   []string
	cursor atomic.Uint64
}

// NewSelector builds a selector over the given base URLs. Trailing slashes
// are stripped so callers can join paths uniformly.
func NewSelector(urls []string) (*Selector, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	cleaned := make([]string, len(urls))
	for i, u := range urls {
		cleaned[i] = strings.TrimRight(u, "/")
	}
	return &Selector{urls: cleaned}, nil
}

// Next returns the next base URL in cyclic order. Safe for concurrent
// callers: each call advances the shared cursor atomically, so within any
// full cycle no endpoint is skipped or repeated.
func (s *Selector) Next() string {
	n := s.cursor.Add(1) - 1
	return s.urls[n%uint64(len(s.urls))]
}

// Len 回傳配置的後端數量
func (s *Selector) Len() int {
	return len(s.urls)
}
