package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/api/option"

	"github.com/zinto/invoice-tracker/internal/drive"
	"github.com/zinto/invoice-tracker/internal/extraction"
	"github.com/zinto/invoice-tracker/internal/invoice"
	"github.com/zinto/invoice-tracker/internal/sync"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoice-tracker")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbBackend       = fs.StringLong("db-backend", "bolt", "Store backend: 'bolt' or 'firestore'")
		dbPath          = fs.StringLong("db", "invoice-tracker.db", "Database file path (bolt backend)")
		gcpProject      = fs.StringLong("gcp-project", "", "GCP project ID (firestore backend)")
		storagePath     = fs.StringLong("storage", "./documents", "Archive directory for uploaded documents")
		extractorType   = fs.StringLong("extractor", "gemini", "Extractor type: 'gemini' or 'ollama'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-1.5-flash", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		driveCreds      = fs.StringLong("drive-credentials", "", "Service account key file for Drive access (default: application default credentials)")
		defaultCurrency = fs.StringLong("default-currency", "JPY", "Currency assumed when extraction finds none")
		defaultCategory = fs.StringLong("default-category", "Other", "Category assumed when extraction finds none")
		batchSize       = fs.IntLong("sync-batch-size", 3, "Concurrent files per batch during sync")
		fileTimeout     = fs.DurationLong("extract-timeout", 2*time.Minute, "Per-file download+extraction deadline")
		syncInterval    = fs.DurationLong("sync-interval", 0, "Background sync period (0 disables)")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize store
	slog.Info("Initializing store...", "backend", *dbBackend)
	var db invoice.DB
	var err error
	switch *dbBackend {
	case "bolt":
		db, err = invoice.NewBoltDB(*dbPath)
	case "firestore":
		db, err = invoice.NewFirestoreDB(ctx, *gcpProject)
	default:
		slog.Error("Invalid store backend", "backend", *dbBackend, "valid", "bolt or firestore")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize extractor based on type
	var extractor extraction.Extractor
	switch *extractorType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = extraction.NewGemini(apiKey, *geminiModel, *fileTimeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = extraction.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer extractor.Close()

	// Initialize drive client
	var driveOpts []option.ClientOption
	if *driveCreds != "" {
		driveOpts = append(driveOpts, option.WithCredentialsFile(*driveCreds))
	}
	driveClient, err := drive.NewGoogle(ctx, driveOpts...)
	if err != nil {
		slog.Error("Failed to initialize Drive client", "error", err)
		os.Exit(1)
	}

	// Initialize upload archive
	store, err := invoice.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	defaults := invoice.Defaults{Currency: *defaultCurrency, Category: *defaultCategory}
	service := invoice.NewService(db, extractor, store, defaults)
	orchestrator := sync.NewOrchestrator(db, driveClient, extractor, db, sync.Options{
		BatchSize:       *batchSize,
		FileTimeout:     *fileTimeout,
		DefaultCurrency: *defaultCurrency,
		DefaultCategory: *defaultCategory,
	})

	basicAuth := invoice.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := invoice.NewServer(service, orchestrator, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Optional background sync loop
	stopSync := make(chan struct{})
	if *syncInterval > 0 {
		slog.Info("Background sync enabled", "interval", *syncInterval)
		go func() {
			ticker := time.NewTicker(*syncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					count, err := orchestrator.Run(ctx)
					if err != nil {
						slog.Error("Scheduled sync failed", "error", err)
						continue
					}
					slog.Info("Scheduled sync finished", "processed_count", count)
					if _, err := service.RefreshOverdue(); err != nil {
						slog.Warn("Overdue refresh failed", "error", err)
					}
				case <-stopSync:
					return
				}
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	close(stopSync)
	slog.Info("Shutting down...")
}
