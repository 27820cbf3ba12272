// ============================================================================
// Beaver-OCR Completion Ledger - Durable Per-Group Manifest
// ============================================================================
//
// Package: internal/ledger
// File: ledger.go
//
// 職責說明：
// 1. 以 JSON manifest 持久化「哪些文件已完成」的帳冊，每個 (service, year) 一份
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入失敗（檔案不存在 / 損毀 / 版本不符）一律降級為空帳冊：
//    寧可重做已完成的工作，絕不因帳冊問題中止或遺失資料
// 4. Record 對文件名稱為 append-only 且冪等
//
// On-disk form:
//   <root>/json/<service>/<year>/manifest.json
//   {"schema_version":1, "generated_at":"...", "zips":{"<zip>":{"count":N,"files":[...]}}}
//
// ============================================================================

package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// Ledger 單一 archive-group 的完成帳冊
// 記憶體內的 map 由互斥鎖保護，可供多個 worker 並發存取
type Ledger struct {
	mu     sync.Mutex
	path   string
	m      types.Manifest
	logger *slog.Logger
}

// Path 回傳 (service, year) 帳冊的磁碟路徑
func Path(root, service, year string) string {
	return filepath.Join(root, "json", service, year, "manifest.json")
}

// Load 載入帳冊；檔案不存在或無法解析時回傳空帳冊，永不失敗
func Load(root, service, year string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:   Path(root, service, year),
		m:      types.NewManifest(),
		logger: logger,
	}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("ledger unreadable, starting empty", "path", l.path, "error", err)
		}
		return l
	}

	var m types.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Warn("ledger corrupted, starting empty", "path", l.path, "error", err)
		return l
	}
	if m.SchemaVersion != types.ManifestSchemaVersion {
		logger.Warn("ledger schema version mismatch, starting empty",
			"path", l.path, "got", m.SchemaVersion, "want", types.ManifestSchemaVersion)
		return l
	}
	if m.Zips == nil {
		m.Zips = make(map[string]*types.ManifestZip)
	}
	l.m = m
	return l
}

// Contains 檢查文件是否已記錄為完成
func (l *Ledger) Contains(zipName, docName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.Contains(zipName, docName)
}

// Record 記錄文件完成；重複記錄為 no-op，回傳 true 表示確實新增
func (l *Ledger) Record(zipName, docName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m.Add(zipName, docName)
}

// Persist 原子性覆寫帳冊檔案並更新 generated_at
func (l *Ledger) Persist() error {
	l.mu.Lock()
	l.m.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	raw, err := marshalManifest(&l.m)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return writeAtomic(l.path, raw)
}

func marshalManifest(m *types.Manifest) ([]byte, error) {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return raw, nil
}

// Snapshot 回傳帳冊的深拷貝，供狀態查詢與測試使用
func (l *Ledger) Snapshot() types.Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := types.Manifest{
		SchemaVersion: l.m.SchemaVersion,
		GeneratedAt:   l.m.GeneratedAt,
		Zips:          make(map[string]*types.ManifestZip, len(l.m.Zips)),
	}
	for name, z := range l.m.Zips {
		files := make([]string, len(z.Files))
		copy(files, z.Files)
		out.Zips[name] = &types.ManifestZip{Count: z.Count, Files: files}
	}
	return out
}

// DocCount 回傳帳冊內已完成的文件總數
func (l *Ledger) DocCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, z := range l.m.Zips {
		n += len(z.Files)
	}
	return n
}

// FilePath 回傳帳冊的磁碟路徑（用於測試與除錯）
func (l *Ledger) FilePath() string {
	return l.path
}

// writeAtomic 先寫入臨時檔再原子性重新命名
func writeAtomic(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}
