// ============================================================================
// Beaver-OCR Manifest Rebuild - Scan Packed Result Zips
// ============================================================================
//
// Package: internal/ledger
// File: scan.go
// Purpose: Reconstruct a manifest by scanning a directory of packed result
//          zips (the output of the `pack` command). Used when a manifest was
//          lost or when results were packed on another machine.
//
// ============================================================================

package ledger

import (
	"archive/zip"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// BuildFromZips 掃描目錄下的 *.zip，重建完成帳冊
//
// 壓縮檔內以 .pdf.json 結尾的成員視為一份完成文件
//（去掉 .json 後即為文件名稱）；損毀的壓縮檔記 warn 後跳過
func BuildFromZips(dir string, logger *slog.Logger) (*types.Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read zip dir: %w", err)
	}

	m := types.NewManifest()
	m.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".zip") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		r, err := zip.OpenReader(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("bad zip, skipping", "zip", name, "error", err)
			continue
		}

		seen := make(map[string]struct{})
		for _, f := range r.File {
			if f.FileInfo().IsDir() {
				continue
			}
			if !strings.HasSuffix(f.Name, ".pdf.json") {
				continue
			}
			seen[strings.TrimSuffix(f.Name, ".json")] = struct{}{}
		}
		r.Close()

		files := make([]string, 0, len(seen))
		for f := range seen {
			files = append(files, f)
		}
		sort.Strings(files)

		m.Zips[name] = &types.ManifestZip{Count: len(files), Files: files}
		logger.Info("scanned zip", "zip", name, "files", len(files))
	}

	return &m, nil
}

// WriteManifest 將帳冊原子性寫入指定路徑
func WriteManifest(path string, m *types.Manifest) error {
	raw, err := marshalManifest(m)
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}
