// ============================================================================
// Beaver-OCR Result Cache - Durable Per-Document Output Store
// ============================================================================
//
// Package: internal/cache
// File: cache.go
//
// 職責說明：
// 1. 每份完成的文件寫入一個 JSON 快取檔：
//    <root>/cache/<service>/<year>/<doc>.json
// 2. 使用原子性寫入（temp file + rename）防止半成品檔案
// 3. 讀取失敗（不存在 / 損毀）一律視為「尚未完成」，記 warn 後回傳 nil
// 4. 一個可解析的快取檔本身即為完成證明，內容以快取為準、
//    完成簿記以帳冊為準
//
// ============================================================================

package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// Store 單一 archive-group 的結果快取
type Store struct {
	mu      sync.Mutex // 序列化寫入；讀取不需要鎖（rename 保證完整性）
	root    string
	service string
	year    string
	logger  *slog.Logger
}

// NewStore 建立 (service, year) 範圍的快取存取器
func NewStore(root, service, year string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, service: service, year: year, logger: logger}
}

// Path 回傳文件的快取檔路徑
func (s *Store) Path(docName string) string {
	return filepath.Join(s.root, "cache", s.service, s.year, docName+".json")
}

// Load 讀取文件的快取項；不存在或無法解析時回傳 nil（永不失敗）
func (s *Store) Load(docName string) *types.CacheEntry {
	raw, err := os.ReadFile(s.Path(docName))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache entry unreadable, treating as absent",
				"doc", docName, "error", err)
		}
		return nil
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("cache entry corrupted, treating as absent",
			"doc", docName, "error", err)
		return nil
	}
	return &entry
}

// Save 原子性寫入文件的快取項
func (s *Store) Save(entry *types.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(entry.Filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}

// Dir 回傳快取目錄路徑（打包工具使用）
func (s *Store) Dir() string {
	return filepath.Join(s.root, "cache", s.service, s.year)
}
