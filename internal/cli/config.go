// ============================================================================
// Beaver-OCR CLI - Configuration
// ============================================================================
//
// Package: internal/cli
// File: config.go
// Purpose: YAML configuration loading, defaulting and validation
//
// Configuration Structure (configs/default.yaml):
//   - service / year: which corpus slice to process
//   - paths: archive input root and result output root
//   - pipeline: concurrency, buffering and rasterization knobs
//   - ocr: backend endpoints, model and decoding options
//   - metrics: Prometheus monitoring configuration
//
// ============================================================================

package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-ocr/internal/ocr"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Service string `yaml:"service"`
	Year    string `yaml:"year"`

	Paths struct {
		ZipRoot string `yaml:"zip_root"`
		OCRRoot string `yaml:"ocr_root"`
	} `yaml:"paths"`

	Pipeline struct {
		BufferPages    int  `yaml:"buffer_pages"`
		Workers        int  `yaml:"workers"`
		MaxPages       int  `yaml:"max_pages"`
		DPI            int  `yaml:"dpi"`
		BatchSize      int  `yaml:"batch_size"`
		MaxImageEdge   int  `yaml:"max_image_edge"`
		JPEGQuality    int  `yaml:"jpeg_quality"`
		PersistEachDoc bool `yaml:"persist_each_doc"`
	} `yaml:"pipeline"`

	OCR struct {
		Endpoints             []string `yaml:"endpoints"`
		Model                 string   `yaml:"model"`
		Prompt                string   `yaml:"prompt"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
		MaxAttempts           int      `yaml:"max_attempts"`
		BackoffMs             int      `yaml:"backoff_ms"`
		Options               struct {
			Temperature   float64 `yaml:"temperature"`
			NumPredict    int     `yaml:"num_predict"`
			NumCtx        int     `yaml:"num_ctx"`
			RepeatPenalty float64 `yaml:"repeat_penalty"`
		} `yaml:"options"`
	} `yaml:"ocr"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.ZipRoot == "" {
		c.Paths.ZipRoot = "data/zips"
	}
	if c.Paths.OCRRoot == "" {
		c.Paths.OCRRoot = "data/ocr"
	}
	if c.Pipeline.BufferPages <= 0 {
		c.Pipeline.BufferPages = 16
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 2
	}
	if c.Pipeline.MaxPages <= 0 {
		c.Pipeline.MaxPages = 100
	}
	if c.Pipeline.DPI <= 0 {
		c.Pipeline.DPI = 200
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 4
	}
	if c.Pipeline.MaxImageEdge <= 0 {
		c.Pipeline.MaxImageEdge = 1500
	}
	if c.Pipeline.JPEGQuality <= 0 {
		c.Pipeline.JPEGQuality = 85
	}
	if len(c.OCR.Endpoints) == 0 {
		c.OCR.Endpoints = []string{"http://localhost:11434"}
	}
	if c.OCR.Model == "" {
		c.OCR.Model = "typhoon-ocr"
	}
	if c.OCR.RequestTimeoutSeconds <= 0 {
		c.OCR.RequestTimeoutSeconds = 300
	}
	if c.OCR.MaxAttempts <= 0 {
		c.OCR.MaxAttempts = 3
	}
	if c.OCR.BackoffMs <= 0 {
		c.OCR.BackoffMs = 2000
	}
	if c.Metrics.Port <= 0 {
		c.Metrics.Port = 9090
	}
}

func (c *Config) validate() error {
	if c.Service == "" {
		return fmt.Errorf("config: service is required")
	}
	if c.Pipeline.BatchSize > c.Pipeline.BufferPages {
		return fmt.Errorf("config: batch_size (%d) must not exceed buffer_pages (%d)",
			c.Pipeline.BatchSize, c.Pipeline.BufferPages)
	}
	return nil
}

// ocrConfig maps the YAML section onto the client configuration
func (c *Config) ocrConfig() ocr.Config {
	return ocr.Config{
		Model:       c.OCR.Model,
		Prompt:      c.OCR.Prompt,
		Timeout:     time.Duration(c.OCR.RequestTimeoutSeconds) * time.Second,
		MaxAttempts: c.OCR.MaxAttempts,
		Backoff:     time.Duration(c.OCR.BackoffMs) * time.Millisecond,
		MaxEdge:     c.Pipeline.MaxImageEdge,
		JPEGQuality: c.Pipeline.JPEGQuality,
		Options: ocr.Options{
			Temperature:   c.OCR.Options.Temperature,
			NumPredict:    c.OCR.Options.NumPredict,
			NumCtx:        c.OCR.Options.NumCtx,
			RepeatPenalty: c.OCR.Options.RepeatPenalty,
		},
	}
}
