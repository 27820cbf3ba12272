package orchestrator

// ============================================================================
// Orchestrator Test File
// Purpose: Verify document state machine transitions, resume-by-ledger
//          behavior, rejection/failure isolation and year normalization
// ============================================================================

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-ocr/internal/endpoint"
	"github.com/ChuLiYu/beaver-ocr/internal/ledger"
	"github.com/ChuLiYu/beaver-ocr/internal/ocr"
	"github.com/ChuLiYu/beaver-ocr/pkg/types"
)

// fakeRasterizer serves page counts from a fixed table and renders pages as
// images whose width encodes the zero-based page index (40+i), so the fake
// backend can answer with page-specific text.
type fakeRasterizer struct {
	pages      map[string]int // base name -> page count; missing -> error
	failRender map[string]int // base name -> 1-based page whose batch fails
}

func (f *fakeRasterizer) PageCount(_ context.Context, path string) (int, error) {
	n, ok := f.pages[filepath.Base(path)]
	if !ok {
		return 0, fmt.Errorf("unparseable pdf %s", filepath.Base(path))
	}
	return n, nil
}

func (f *fakeRasterizer) Render(_ context.Context, path string, first, last, _ int) ([]image.Image, error) {
	name := filepath.Base(path)
	if fail, ok := f.failRender[name]; ok && first <= fail && fail <= last {
		return nil, fmt.Errorf("render failure injected at page %d", fail)
	}
	images := make([]image.Image, last-first+1)
	for i := range images {
		images[i] = image.NewRGBA(image.Rect(0, 0, 40+(first-1+i), 10))
	}
	return images, nil
}

// newEchoBackend answers "page{width-40}" derived from the submitted JPEG.
func newEchoBackend(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Images []string `json:"images"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Images[0])
		require.NoError(t, err)
		img, err := jpeg.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]string{
			"response": fmt.Sprintf("page%d", img.Bounds().Dx()-40),
		})
	}))
}

func writeArchive(t *testing.T, path string, docNames ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range docNames {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("%PDF-fake " + name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func newTestConfig(t *testing.T, backendURL, zipRoot, ocrRoot string, ras *fakeRasterizer) Config {
	t.Helper()
	sel, err := endpoint.NewSelector([]string{backendURL})
	require.NoError(t, err)
	client := ocr.NewClient(ocr.Config{Model: "m", MaxEdge: 4000}, sel, nil)
	return Config{
		Service:     "svc",
		ZipRoot:     zipRoot,
		OCRRoot:     ocrRoot,
		MaxPages:    100,
		BatchSize:   2,
		BufferPages: 8,
		Workers:     3,
		Client:      client,
		Rasterizer:  ras,
	}
}

func readCacheEntry(t *testing.T, ocrRoot, year, doc string) *types.CacheEntry {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(ocrRoot, "cache", "svc", year, doc+".json"))
	require.NoError(t, err)
	var entry types.CacheEntry
	require.NoError(t, json.Unmarshal(raw, &entry))
	return &entry
}

func TestRunCommitsDocumentsInPageOrder(t *testing.T) {
	srv := newEchoBackend(t, nil)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2024", "2024-01.zip"),
		"doc_a.pdf", "doc_b.pdf")

	ras := &fakeRasterizer{pages: map[string]int{"doc_a.pdf": 3, "doc_b.pdf": 1}}
	o, err := New(newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras))
	require.NoError(t, err)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archives)
	assert.Equal(t, 2, stats.Dispatched)
	assert.Zero(t, stats.Skipped)

	// Pages joined in ascending order regardless of worker completion order.
	entryA := readCacheEntry(t, ocrRoot, "2024", "doc_a.pdf")
	assert.Equal(t, "page0\n\npage1\n\npage2", entryA.Text)
	assert.Equal(t, 3, entryA.Pages)

	entryB := readCacheEntry(t, ocrRoot, "2024", "doc_b.pdf")
	assert.Equal(t, "page0", entryB.Text)

	// Ledger persisted after the archive.
	led := ledger.Load(ocrRoot, "svc", "2024", nil)
	assert.True(t, led.Contains("2024-01.zip", "doc_a.pdf"))
	assert.True(t, led.Contains("2024-01.zip", "doc_b.pdf"))
}

func TestRerunSkipsCommittedDocuments(t *testing.T) {
	var calls atomic.Int32
	srv := newEchoBackend(t, &calls)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2024", "2024-01.zip"),
		"doc_a.pdf", "doc_b.pdf")

	ras := &fakeRasterizer{pages: map[string]int{"doc_a.pdf": 2, "doc_b.pdf": 2}}

	o, err := New(newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras))
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	require.NoError(t, err)
	firstRunCalls := calls.Load()
	require.Positive(t, firstRunCalls)

	// Second run resumes from the persisted ledger: no backend traffic.
	o2, err := New(newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras))
	require.NoError(t, err)
	stats, err := o2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Dispatched)
	assert.Equal(t, firstRunCalls, calls.Load())
}

func TestCacheOnlyResumeBackfillsLedger(t *testing.T) {
	var calls atomic.Int32
	srv := newEchoBackend(t, &calls)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2024", "2024-01.zip"), "doc_a.pdf")

	// A committed result file exists but the ledger was lost.
	cacheDir := filepath.Join(ocrRoot, "cache", "svc", "2024")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	entry := types.CacheEntry{Filename: "doc_a.pdf", Pages: 1, Text: "recovered"}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "doc_a.pdf.json"), raw, 0o644))

	ras := &fakeRasterizer{pages: map[string]int{"doc_a.pdf": 1}}
	o, err := New(newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras))
	require.NoError(t, err)
	stats, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, calls.Load())

	// The skip was backfilled into the ledger and persisted.
	led := ledger.Load(ocrRoot, "svc", "2024", nil)
	assert.True(t, led.Contains("2024-01.zip", "doc_a.pdf"))
}

func TestOversizedDocumentRejectedWithoutTrace(t *testing.T) {
	srv := newEchoBackend(t, nil)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2024", "2024-01.zip"),
		"big.pdf", "small.pdf")

	ras := &fakeRasterizer{pages: map[string]int{"big.pdf": 150, "small.pdf": 1}}
	o, err := New(newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras))
	require.NoError(t, err)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Dispatched)

	led := ledger.Load(ocrRoot, "svc", "2024", nil)
	assert.False(t, led.Contains("2024-01.zip", "big.pdf"))
	assert.True(t, led.Contains("2024-01.zip", "small.pdf"))
	assert.NoFileExists(t, filepath.Join(ocrRoot, "cache", "svc", "2024", "big.pdf.json"))
}

func TestUncountableDocumentLeavesNoTrace(t *testing.T) {
	srv := newEchoBackend(t, nil)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2024", "2024-01.zip"),
		"broken.pdf", "ok.pdf")

	// broken.pdf missing from the table: PageCount fails.
	ras := &fakeRasterizer{pages: map[string]int{"ok.pdf": 1}}
	o, err := New(newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras))
	require.NoError(t, err)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Dispatched)

	led := ledger.Load(ocrRoot, "svc", "2024", nil)
	assert.False(t, led.Contains("2024-01.zip", "broken.pdf"))
	assert.True(t, led.Contains("2024-01.zip", "ok.pdf"))
}

func TestRenderFailureCommitsWithGaps(t *testing.T) {
	srv := newEchoBackend(t, nil)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2024", "2024-01.zip"), "doc.pdf")

	// Pages render one at a time; page 2 fails and commits as an empty slot.
	ras := &fakeRasterizer{
		pages:      map[string]int{"doc.pdf": 3},
		failRender: map[string]int{"doc.pdf": 2},
	}
	cfg := newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras)
	cfg.BatchSize = 1
	o, err := New(cfg)
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	entry := readCacheEntry(t, ocrRoot, "2024", "doc.pdf")
	assert.Equal(t, "page0\n\n\n\npage2", entry.Text)

	led := ledger.Load(ocrRoot, "svc", "2024", nil)
	assert.True(t, led.Contains("2024-01.zip", "doc.pdf"))
}

func TestBuddhistYearDirectoryNormalized(t *testing.T) {
	srv := newEchoBackend(t, nil)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2567", "2024-01.zip"), "doc.pdf")

	ras := &fakeRasterizer{pages: map[string]int{"doc.pdf": 1}}
	o, err := New(newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	// Outputs land under the Gregorian year.
	assert.FileExists(t, filepath.Join(ocrRoot, "cache", "svc", "2024", "doc.pdf.json"))
	assert.FileExists(t, filepath.Join(ocrRoot, "json", "svc", "2024", "manifest.json"))
}

func TestYearFilterLimitsProcessing(t *testing.T) {
	srv := newEchoBackend(t, nil)
	defer srv.Close()

	zipRoot, ocrRoot := t.TempDir(), t.TempDir()
	writeArchive(t, filepath.Join(zipRoot, "svc", "2023", "2023-01.zip"), "old.pdf")
	writeArchive(t, filepath.Join(zipRoot, "svc", "2024", "2024-01.zip"), "new.pdf")

	ras := &fakeRasterizer{pages: map[string]int{"old.pdf": 1, "new.pdf": 1}}
	cfg := newTestConfig(t, srv.URL, zipRoot, ocrRoot, ras)
	cfg.Year = "2024"
	o, err := New(cfg)
	require.NoError(t, err)

	stats, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archives)
	assert.FileExists(t, filepath.Join(ocrRoot, "cache", "svc", "2024", "new.pdf.json"))
	assert.NoFileExists(t, filepath.Join(ocrRoot, "cache", "svc", "2023", "old.pdf.json"))
}

func TestMissingServiceDirectoryFatal(t *testing.T) {
	srv := newEchoBackend(t, nil)
	defer srv.Close()

	ras := &fakeRasterizer{pages: map[string]int{}}
	o, err := New(newTestConfig(t, srv.URL, t.TempDir(), t.TempDir(), ras))
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.Error(t, err)
}

func TestNormalizeYear(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024", "2024", true},
		{"2567", "2024", true}, // Buddhist calendar
		{"2400", "1857", true},
		{"1999", "1999", true},
		{"notes", "", false},
		{"202", "", false},
	}
	for _, c := range cases {
		got, ok := normalizeYear(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.Equal(t, c.want, got, c.in)
		}
	}
}
