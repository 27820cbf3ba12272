// ============================================================================
// Beaver-OCR Backend Client - Remote OCR Invocation
// ============================================================================
//
// Package: internal/ocr
// File: client.go
// Purpose: Convert one rasterized page image into extracted text by calling
//          an Ollama-compatible OCR backend over HTTP.
//
// Request contract (fixed by the backend, not negotiable here):
//   POST <base>/api/generate
//   {"model", "prompt", "images":[<base64 jpeg>], "stream":false, "options":{...}}
//   -> {"response": "<extracted text>"}
//
// Failure model:
//   - Network error / timeout / non-2xx / malformed JSON are all transient,
//     page-scoped failures. The client retries with exponential backoff up
//     to MaxAttempts, rotating to the next endpoint on each attempt, then
//     gives up with the last error. It never panics and never aborts the
//     calling worker.
//
// ============================================================================

package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ChuLiYu/beaver-ocr/internal/endpoint"
)

// DefaultPrompt 與後端約定的固定指令
const DefaultPrompt = "<image>\nExtract all text from the image and format as Markdown.\n" +
	"- Tables: HTML <table>\n" +
	"- Output: Extracted content only.\n\nContent:"

// Options 後端解碼參數，原樣轉發
type Options struct {
	Temperature   float64 `json:"temperature"`
	NumPredict    int     `json:"num_predict,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

// Config OCR 客戶端配置
type Config struct {
	Model       string        // 後端模型識別碼
	Prompt      string        // 指令文字，空值使用 DefaultPrompt
	Timeout     time.Duration // 單次請求逾時（建議 60-600s）
	MaxAttempts int           // 每頁最多嘗試次數（含首次）
	Backoff     time.Duration // 重試間隔基數，指數遞增
	MaxEdge     int           // 影像長邊上限，超過則等比縮小
	JPEGQuality int           // JPEG 編碼品質
	Options     Options
}

func (c *Config) defaults() {
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.MaxEdge <= 0 {
		c.MaxEdge = 1500
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 85
	}
}

// Client OCR 後端客戶端，對多個後端輪流送出請求
type Client struct {
	cfg      Config
	selector *endpoint.Selector
	httpc    *http.Client
	logger   *slog.Logger
}

// NewClient 建立客戶端；selector 決定每次呼叫使用的後端
func NewClient(cfg Config, sel *endpoint.Selector, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		selector: sel,
		// 單次請求逾時由 per-attempt context 控制，Client 本身不設 Timeout
		httpc:  &http.Client{},
		logger: logger,
	}
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Images  []string `json:"images"`
	Stream  bool     `json:"stream"`
	Options Options  `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Recognize 對單頁影像執行 OCR，回傳去除前後空白的辨識文字
//
// 失敗時回傳最後一次嘗試的錯誤；呼叫端應將其視為該頁的局部失敗，
// 不得因此中止其他頁面
func (c *Client) Recognize(ctx context.Context, img image.Image) (string, error) {
	encoded, err := EncodeJPEG(img, c.cfg.MaxEdge, c.cfg.JPEGQuality)
	if err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Model:   c.cfg.Model,
		Prompt:  c.cfg.Prompt,
		Images:  []string{encoded},
		Stream:  false,
		Options: c.cfg.Options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			// 指數退避：backoff, 2*backoff, 4*backoff, ...
			wait := c.cfg.Backoff << (attempt - 2)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		base := c.selector.Next()
		text, err := c.call(ctx, base, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		c.logger.Warn("ocr call failed",
			"endpoint", base,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"error", err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func (c *Client) call(ctx context.Context, base string, body []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, base+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 讀掉 body 讓連線可重用，內容不重要
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("malformed response body: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}
