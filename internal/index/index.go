// ============================================================================
// Beaver-OCR Global Finished-File Index
// ============================================================================
//
// Package: internal/index
// File: index.go
// Purpose: Process-wide, read-mostly set of documents known complete across
//          ALL archive-groups, aggregated from every persisted ledger at
//          startup. Serves as the fast first-pass skip check before an
//          archive member is even opened.
//
// The index is rebuilt on process start and updated in-process as documents
// commit; a different process's commits become visible only after restart.
//
// ============================================================================

package index

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// Index 全域完成文件索引
type Index struct {
	mu   sync.RWMutex
	done map[string]struct{} // key: service/year/doc
}

// NewIndex 建立空索引
func NewIndex() *Index {
	return &Index{done: make(map[string]struct{})}
}

func key(service, year, doc string) string {
	return service + "/" + year + "/" + doc
}

// Build 掃描 <root>/json 下所有 manifest.json，彙整為全域索引
//
// 路徑佈局 <root>/json/<service>/<year>/manifest.json 決定每筆記錄的範圍；
// 無法解析的帳冊記 warn 後跳過（fail open）
func (i *Index) Build(root string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	jsonRoot := filepath.Join(root, "json")
	count := 0

	filepath.WalkDir(jsonRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // 目錄不存在等情況：視為沒有任何帳冊
		}
		if d.IsDir() || d.Name() != "manifest.json" {
			return nil
		}

		rel, relErr := filepath.Rel(jsonRoot, path)
		if relErr != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 { // <service>/<year>/manifest.json
			return nil
		}
		service, year := parts[0], parts[1]

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			logger.Warn("ledger unreadable during index build", "path", path, "error", readErr)
			return nil
		}
		var m types.Manifest
		if jsonErr := json.Unmarshal(raw, &m); jsonErr != nil {
			logger.Warn("ledger corrupted during index build", "path", path, "error", jsonErr)
			return nil
		}

		for _, z := range m.Zips {
			for _, doc := range z.Files {
				i.Mark(service, year, doc)
				count++
			}
		}
		return nil
	})

	logger.Info("finished-file index built", "documents", count)
}

// Mark 將文件標記為完成
func (i *Index) Mark(service, year, doc string) {
	i.mu.Lock()
	i.done[key(service, year, doc)] = struct{}{}
	i.mu.Unlock()
}

// Contains 檢查文件是否已知完成
func (i *Index) Contains(service, year, doc string) bool {
	i.mu.RLock()
	_, ok := i.done[key(service, year, doc)]
	i.mu.RUnlock()
	return ok
}

// Len 回傳索引中的文件數
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.done)
}
