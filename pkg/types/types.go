// Package types 定義了 beaver-ocr 系統中使用的核心領域模型
package types

import (
	"image"
	"time"
)

// ResultKind 單頁 OCR 呼叫的結果類別
type ResultKind string

// 定義結果類別常數
const (
	ResultOK     ResultKind = "ok"     // 後端回傳了非空文字
	ResultEmpty  ResultKind = "empty"  // 呼叫成功但沒有辨識出任何文字
	ResultFailed ResultKind = "failed" // 呼叫失敗（逾時、非 2xx、回應格式錯誤）
)

// DocPhase 文件在管線中的生命週期狀態
type DocPhase string

// 合法轉換：
//
//	discovered -> skipped                          （已存在於索引 / 帳冊 / 快取）
//	discovered -> size_checked -> rejected         （頁數超過上限）
//	size_checked -> dispatched -> assembling -> committed
//
// committed 與 skipped 為終態，不得再回到 dispatched
const (
	PhaseDiscovered  DocPhase = "discovered"
	PhaseSkipped     DocPhase = "skipped"
	PhaseSizeChecked DocPhase = "size_checked"
	PhaseRejected    DocPhase = "rejected"
	PhaseDispatched  DocPhase = "dispatched"
	PhaseAssembling  DocPhase = "assembling"
	PhaseCommitted   DocPhase = "committed"
)

// DocumentRef 唯一標識一個 archive-group 內的文件
// Name 僅保證在其所屬壓縮檔內唯一
type DocumentRef struct {
	Service string // 服務範圍，例如 "ratchakitcha"
	Year    string // 年度範圍（已正規化為西元年）
	Archive string // 壓縮檔名稱，例如 "2024-01.zip"
	Name    string // 文件檔名（含 .pdf 副檔名）
}

// Key 回傳 archive-group 內的唯一鍵
func (d DocumentRef) Key() string {
	return d.Archive + "/" + d.Name
}

// PageBatch 頁面緩衝區的派工單位，一個批次可攜帶多個連續頁面
// Images 中的 nil 元素表示該頁光柵化失敗，仍須產生一筆 failed 結果
type PageBatch struct {
	Doc        DocumentRef
	StartIndex int           // 批次第一頁的索引（從 0 開始）
	Images     []image.Image // 已光柵化的頁面影像，依頁序排列
	TotalPages int           // 所屬文件的總頁數（避免完成偵測時額外查詢）
}

// PageCount 回傳批次攜帶的頁數
func (b PageBatch) PageCount() int {
	return len(b.Images)
}

// PageResult 一次後端呼叫的產出，產生後不可變
type PageResult struct {
	Doc     DocumentRef
	Index   int           // 頁面索引（從 0 開始）
	Text    string        // 辨識文字，失敗時為空字串
	Kind    ResultKind    // 結果類別
	Reason  string        // Kind 為 failed 時的原因描述
	Latency time.Duration // 後端呼叫耗時
}

// CacheEntry 結果快取檔的磁碟格式，每份文件一個 JSON 檔
type CacheEntry struct {
	Filename string  `json:"filename"`
	Pages    int     `json:"pages"`
	Text     string  `json:"text"`
	TimeSec  float64 `json:"time_sec"`
}

// ManifestSchemaVersion 目前的帳冊格式版本
const ManifestSchemaVersion = 1

// Manifest 完成帳冊的磁碟格式，每個 (service, year) 一份
type Manifest struct {
	SchemaVersion int                     `json:"schema_version"`
	GeneratedAt   string                  `json:"generated_at"`
	Zips          map[string]*ManifestZip `json:"zips"`
}

// ManifestZip 單一壓縮檔的完成記錄，Files 為 append-only
type ManifestZip struct {
	Count int      `json:"count"`
	Files []string `json:"files"`
}

// NewManifest 建立空的帳冊
func NewManifest() Manifest {
	return Manifest{
		SchemaVersion: ManifestSchemaVersion,
		Zips:          make(map[string]*ManifestZip),
	}
}

// Contains 檢查文件是否已記錄於指定壓縮檔
func (m *Manifest) Contains(zipName, docName string) bool {
	z, ok := m.Zips[zipName]
	if !ok {
		return false
	}
	for _, f := range z.Files {
		if f == docName {
			return true
		}
	}
	return false
}

// Add 將文件加入壓縮檔記錄，重複加入為 no-op
// 回傳 true 表示確實新增
func (m *Manifest) Add(zipName, docName string) bool {
	if m.Zips == nil {
		m.Zips = make(map[string]*ManifestZip)
	}
	z, ok := m.Zips[zipName]
	if !ok {
		z = &ManifestZip{}
		m.Zips[zipName] = z
	}
	for _, f := range z.Files {
		if f == docName {
			return false
		}
	}
	z.Files = append(z.Files, docName)
	z.Count = len(z.Files)
	return true
}
