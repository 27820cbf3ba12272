// ============================================================================
// Beaver-OCR PDF Rasterizer
// ============================================================================
//
// Package: internal/archive
// File: rasterizer.go
// Purpose: Turn a page range of a PDF into in-memory images for dispatch.
//
// Page counting goes through pdfcpu (pure Go, no process spawn); rendering
// shells out to pdftoppm, which handles the scanned-document corpus far more
// robustly than any in-process renderer we evaluated.
//
// Failure granularity: a page that fails to decode yields a nil slot in the
// returned slice so its siblings still flow through the pipeline; only a
// whole-command failure is reported as an error.
//
// ============================================================================

package archive

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Rasterizer 將 PDF 頁面轉為影像
// 頁碼為 1-based，範圍含頭尾
type Rasterizer interface {
	PageCount(ctx context.Context, path string) (int, error)
	Render(ctx context.Context, path string, first, last, dpi int) ([]image.Image, error)
}

// PopplerRasterizer 以 pdftoppm 渲染頁面的 Rasterizer 實作
type PopplerRasterizer struct {
	logger *slog.Logger
}

// NewPopplerRasterizer 建立 Poppler 渲染器
func NewPopplerRasterizer(logger *slog.Logger) *PopplerRasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PopplerRasterizer{logger: logger}
}

// PageCount 回傳 PDF 總頁數
// 檔案損壞或加密無法解析時回傳錯誤
func (r *PopplerRasterizer) PageCount(_ context.Context, path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// Render 渲染 [first, last] 頁（1-based）
func (r *PopplerRasterizer) Render(ctx context.Context, path string, first, last, dpi int) ([]image.Image, error) {
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid page range %d-%d", first, last)
	}

	workDir, err := os.MkdirTemp("", "beaver-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create raster dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	prefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-f", strconv.Itoa(first),
		"-l", strconv.Itoa(last),
		"-r", strconv.Itoa(dpi),
		"-png",
		path, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm %s pages %d-%d: %w: %s",
			filepath.Base(path), first, last, err, strings.TrimSpace(string(out)))
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("collect rendered pages: %w", err)
	}
	sort.Strings(matches)

	images := make([]image.Image, last-first+1)
	for _, file := range matches {
		page, ok := pageNumber(file)
		if !ok || page < first || page > last {
			continue
		}
		img, err := decodePNG(file)
		if err != nil {
			// 單頁解碼失敗：留空槽位，不中斷整批
			r.logger.Warn("failed to decode rendered page",
				"pdf", filepath.Base(path), "page", page, "error", err)
			continue
		}
		images[page-first] = img
	}
	return images, nil
}

// pageNumber 由 pdftoppm 輸出檔名（page-NNN.png）解析頁碼
func pageNumber(file string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(file), ".png")
	i := strings.LastIndexByte(base, '-')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func decodePNG(file string) (image.Image, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
