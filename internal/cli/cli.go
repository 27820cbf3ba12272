// ============================================================================
// Beaver-OCR CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   beaver-ocr                     # Root command
//   ├── run                        # Process archives through the OCR pipeline
//   │   └── --year                # Restrict to a single year
//   ├── status                     # Show processing progress per year
//   ├── manifest                   # Rebuild a year manifest from output zips
//   ├── pack                       # Bundle committed results into zips
//   ├── --config, -c              # Specify config file
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// run Command:
//   Starts the complete pipeline:
//   1. Load config file
//   2. Build finished-file index and per-year ledgers
//   3. Start Metrics HTTP server (if enabled)
//   4. Process every archive, committing results as documents complete
//   5. Gracefully stop on SIGINT/SIGTERM, persisting committed work
//
//   Examples:
//     ./beaver-ocr run
//     ./beaver-ocr run --year 2024 -c custom-config.yaml
//
// Signal Handling:
//   run command captures SIGINT and SIGTERM; in-flight documents are
//   abandoned (and retried on the next run), committed documents stay
//   persisted.
//
// Metrics Service:
//   If enabled in config, starts HTTP service in separate goroutine:
//   - Default port: 9090
//   - Path: /metrics
//   - Format: Prometheus format
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/beaver-ocr/internal/archive"
	"github.com/ChuLiYu/beaver-ocr/internal/endpoint"
	"github.com/ChuLiYu/beaver-ocr/internal/ledger"
	"github.com/ChuLiYu/beaver-ocr/internal/metrics"
	"github.com/ChuLiYu/beaver-ocr/internal/ocr"
	"github.com/ChuLiYu/beaver-ocr/internal/orchestrator"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beaver-ocr",
		Short: "Beaver-OCR: A resumable concurrent OCR dispatch pipeline",
		Long: `Beaver-OCR processes archives of scanned PDF documents through
remote OCR backends with:
- Page-bounded memory usage
- Round-robin backend fan-out
- Two-level completion ledger for crash-safe resume
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildManifestCommand())
	rootCmd.AddCommand(buildPackCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var year string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process archives through the OCR pipeline",
		Long:  "Discover archives, dispatch pages to OCR backends and commit assembled documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(year)
		},
	}

	cmd.Flags().StringVar(&year, "year", "", "Restrict processing to one year (overrides config)")

	return cmd
}

func runPipeline(year string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if year != "" {
		cfg.Year = year
	}

	logger := slog.Default()
	logger.Info("starting beaver-ocr",
		"service", cfg.Service, "year", cfg.Year,
		"workers", cfg.Pipeline.Workers, "endpoints", len(cfg.OCR.Endpoints))

	sel, err := endpoint.NewSelector(cfg.OCR.Endpoints)
	if err != nil {
		return fmt.Errorf("invalid endpoint list: %w", err)
	}
	client := ocr.NewClient(cfg.ocrConfig(), sel, logger)
	collector := metrics.NewCollector(nil)

	if cfg.Metrics.Enabled {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("starting metrics server", "addr", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	o, err := orchestrator.New(orchestrator.Config{
		Service:     cfg.Service,
		Year:        cfg.Year,
		ZipRoot:     cfg.Paths.ZipRoot,
		OCRRoot:     cfg.Paths.OCRRoot,
		MaxPages:    cfg.Pipeline.MaxPages,
		DPI:         cfg.Pipeline.DPI,
		BatchSize:   cfg.Pipeline.BatchSize,
		BufferPages: cfg.Pipeline.BufferPages,
		Workers:     cfg.Pipeline.Workers,
		PersistEach: cfg.Pipeline.PersistEachDoc,
		Client:      client,
		Rasterizer:  archive.NewPopplerRasterizer(logger),
		Collector:   collector,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := o.Run(ctx)
	logger.Info("pipeline finished",
		"archives", stats.Archives,
		"dispatched", stats.Dispatched,
		"skipped", stats.Skipped,
		"rejected", stats.Rejected,
		"failed", stats.Failed)
	return err
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show processing progress",
		Long:  "Display per-year ledger statistics for the configured service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║           Beaver-OCR Processing Status                    ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("📋 Configuration:")
	fmt.Printf("  └─ Config File:   %s\n", configFile)
	fmt.Printf("  └─ Service:       %s\n", cfg.Service)
	fmt.Printf("  └─ Archive Root:  %s\n", cfg.Paths.ZipRoot)
	fmt.Printf("  └─ Output Root:   %s\n", cfg.Paths.OCRRoot)
	fmt.Println()

	years, err := filepath.Glob(filepath.Join(cfg.Paths.OCRRoot, "json", cfg.Service, "*"))
	if err != nil || len(years) == 0 {
		fmt.Println("📊 Progress:")
		fmt.Println("  └─ No ledgers found (run 'beaver-ocr run' to start)")
		fmt.Println()
		return nil
	}
	sort.Strings(years)

	fmt.Println("📊 Progress:")
	for _, dir := range years {
		year := filepath.Base(dir)
		led := ledger.Load(cfg.Paths.OCRRoot, cfg.Service, year, slog.Default())
		m := led.Snapshot()
		fmt.Printf("  ├─ Year %s: %d documents in %d archives\n",
			year, led.DocCount(), len(m.Zips))
	}
	fmt.Println()

	fmt.Println("📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  └─ Status: ⚠️  Disabled")
	}
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}

func buildManifestCommand() *cobra.Command {
	var year string
	var outDir string

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Rebuild a year manifest from packed result archives",
		Long:  "Scan packed result zips and regenerate the completion manifest from their members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rebuildManifest(year, outDir)
		},
	}

	cmd.Flags().StringVar(&year, "year", "", "Year to rebuild (required)")
	cmd.Flags().StringVar(&outDir, "dir", "", "Directory containing packed result zips (required)")
	cmd.MarkFlagRequired("year")
	cmd.MarkFlagRequired("dir")

	return cmd
}

func rebuildManifest(year, dir string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.Default()
	m, err := ledger.BuildFromZips(dir, logger)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	path := ledger.Path(cfg.Paths.OCRRoot, cfg.Service, year)
	if err := ledger.WriteManifest(path, m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	total := 0
	for _, z := range m.Zips {
		total += z.Count
	}
	logger.Info("manifest rebuilt", "path", path, "archives", len(m.Zips), "documents", total)
	return nil
}

func buildPackCommand() *cobra.Command {
	var year string
	var outDir string
	var yearly bool

	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Bundle committed results into zip archives",
		Long:  "Group per-document result files by month (or year) into distribution zips",
		RunE: func(cmd *cobra.Command, args []string) error {
			return packResults(year, outDir, yearly)
		},
	}

	cmd.Flags().StringVar(&year, "year", "", "Year whose results to pack (required)")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default: <ocr_root>/json/<service>/<year>)")
	cmd.Flags().BoolVar(&yearly, "yearly", false, "Pack the whole year into one archive")
	cmd.MarkFlagRequired("year")

	return cmd
}

func packResults(year, outDir string, yearly bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cacheDir := filepath.Join(cfg.Paths.OCRRoot, "cache", cfg.Service, year)
	if outDir == "" {
		outDir = filepath.Join(cfg.Paths.OCRRoot, "json", cfg.Service, year)
	}
	mode := archive.PackMonthly
	if yearly {
		mode = archive.PackYearly
	}

	logger := slog.Default()
	written, err := archive.PackCache(cacheDir, outDir, year, mode, logger)
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Printf("  └─ %s\n", path)
	}
	if _, err := os.Stat(cacheDir); err == nil && len(written) == 0 {
		fmt.Println("  └─ Nothing to pack")
	}
	return nil
}
