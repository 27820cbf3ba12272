// ============================================================================
// Beaver-OCR Cache Packer
// ============================================================================
//
// Package: internal/archive
// File: pack.go
// Purpose: Bundle committed per-document result files into ZIP archives for
//          downstream distribution.
//
// 職責說明:
// 1. 依月份（檔名前 7 碼）或整年分組快取目錄下的 *.pdf.json
// 2. 目標壓縮檔已存在時僅補入缺少的成員，既有內容原樣保留
// 3. 以暫存檔 + rename 覆寫，中途失敗不破壞既有壓縮檔
//
// ============================================================================

package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PackMode 打包分組方式
type PackMode int

const (
	// PackMonthly 依檔名前 7 碼（YYYY-MM）分組，每月一個壓縮檔
	PackMonthly PackMode = iota
	// PackYearly 全年一個壓縮檔（ocr-<year>.zip）
	PackYearly
)

// PackCache 將 cacheDir 下的結果檔打包到 outDir，回傳寫出的壓縮檔路徑
// 已在目標壓縮檔中的成員不重複寫入
func PackCache(cacheDir, outDir, year string, mode PackMode, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir %s: %w", cacheDir, err)
	}

	// group name -> 結果檔基底檔名列表
	groups := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".pdf.json") {
			continue
		}
		group := "ocr-" + year
		if mode == PackMonthly {
			if len(name) < 7 {
				logger.Warn("cache file name too short for monthly grouping", "file", name)
				continue
			}
			group = name[:7]
		}
		groups[group] = append(groups[group], name)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", outDir, err)
	}

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	var written []string
	for _, group := range names {
		files := groups[group]
		sort.Strings(files)
		target := filepath.Join(outDir, group+".zip")
		added, err := appendToZip(target, cacheDir, files)
		if err != nil {
			return written, fmt.Errorf("pack %s: %w", group, err)
		}
		logger.Info("packed cache group",
			"group", group, "members", len(files), "added", added)
		written = append(written, target)
	}
	return written, nil
}

// appendToZip 重寫 target：先複製既有成員，再補入缺少的檔案
func appendToZip(target, srcDir string, files []string) (int, error) {
	existing := make(map[string]struct{})

	var old *zip.ReadCloser
	if _, err := os.Stat(target); err == nil {
		old, err = zip.OpenReader(target)
		if err != nil {
			return 0, fmt.Errorf("open existing archive: %w", err)
		}
		defer old.Close()
		for _, f := range old.File {
			existing[f.Name] = struct{}{}
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".pack-*.zip")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	if old != nil {
		for _, f := range old.File {
			if err := zw.Copy(f); err != nil {
				zw.Close()
				tmp.Close()
				return 0, fmt.Errorf("copy member %s: %w", f.Name, err)
			}
		}
	}

	added := 0
	for _, name := range files {
		if _, ok := existing[name]; ok {
			continue
		}
		if err := addFile(zw, filepath.Join(srcDir, name), name); err != nil {
			zw.Close()
			tmp.Close()
			return 0, err
		}
		added++
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, err
	}
	return added, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer src.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add member %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write member %s: %w", name, err)
	}
	return nil
}
