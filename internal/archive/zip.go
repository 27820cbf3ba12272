// ============================================================================
// Beaver-OCR Archive Reader - ZIP Document Groups
// ============================================================================
//
// Package: internal/archive
// File: zip.go
// Purpose: Enumerate and extract the PDF members of one archive group.
//
// 職責說明:
// 1. 列出壓縮檔中所有 PDF 成員（依檔名排序，保證發現順序穩定）
// 2. 將單一成員解壓到工作目錄
// 3. 單一成員損壞只影響該文件，不中斷整個壓縮檔的處理
//
// ============================================================================

package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Member 壓縮檔內的一個 PDF 成員
type Member struct {
	Path string // 壓縮檔內的完整路徑
	Name string // 基底檔名（文件識別名）
}

// Archive 已開啟的壓縮檔
type Archive struct {
	path string
	rc   *zip.ReadCloser
}

// Open 開啟壓縮檔；無法讀取（損壞、非 zip）時回傳錯誤
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", filepath.Base(path), err)
	}
	return &Archive{path: path, rc: rc}, nil
}

// Name 壓縮檔的基底檔名
func (a *Archive) Name() string {
	return filepath.Base(a.path)
}

// PDFs 回傳所有 PDF 成員，依基底檔名排序
// 目錄項目與非 PDF 成員一律忽略
func (a *Archive) PDFs() []Member {
	var members []Member
	for _, f := range a.rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
			continue
		}
		members = append(members, Member{
			Path: f.Name,
			Name: filepath.Base(f.Name),
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members
}

// Extract 將指定成員解壓到 dir 下，回傳解壓後的檔案路徑
// 成員資料損壞時回傳錯誤，呼叫端應跳過該文件繼續處理
func (a *Archive) Extract(dir string, m Member) (string, error) {
	var entry *zip.File
	for _, f := range a.rc.File {
		if f.Name == m.Path {
			entry = f
			break
		}
	}
	if entry == nil {
		return "", fmt.Errorf("member %s not found in %s", m.Path, a.Name())
	}

	src, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open member %s: %w", m.Name, err)
	}
	defer src.Close()

	dst := filepath.Join(dir, m.Name)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("extract member %s: %w", m.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return dst, nil
}

// Close 關閉壓縮檔
func (a *Archive) Close() error {
	return a.rc.Close()
}
