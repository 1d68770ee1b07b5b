// invoice-sync runs one sync pass over the watched folders and exits.
// Intended for cron/Cloud Scheduler invocation; the exit code reflects
// whether the run itself completed (individual file failures do not fail
// the run).
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
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
	fs := ff.NewFlagSet("invoice-sync")
	var (
		dbBackend       = fs.StringLong("db-backend", "bolt", "Store backend: 'bolt' or 'firestore'")
		dbPath          = fs.StringLong("db", "invoice-tracker.db", "Database file path (bolt backend)")
		gcpProject      = fs.StringLong("gcp-project", "", "GCP project ID (firestore backend)")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-1.5-flash", "Google Gemini model name")
		driveCreds      = fs.StringLong("drive-credentials", "", "Service account key file for Drive access")
		defaultCurrency = fs.StringLong("default-currency", "JPY", "Currency assumed when extraction finds none")
		defaultCategory = fs.StringLong("default-category", "Other", "Category assumed when extraction finds none")
		batchSize       = fs.IntLong("sync-batch-size", 3, "Concurrent files per batch during sync")
		fileTimeout     = fs.DurationLong("extract-timeout", 2*time.Minute, "Per-file download+extraction deadline")
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

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		os.Exit(1)
	}
	extractor, err := extraction.NewGemini(apiKey, *geminiModel, *fileTimeout)
	if err != nil {
		slog.Error("Failed to initialize Gemini", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	var driveOpts []option.ClientOption
	if *driveCreds != "" {
		driveOpts = append(driveOpts, option.WithCredentialsFile(*driveCreds))
	}
	driveClient, err := drive.NewGoogle(ctx, driveOpts...)
	if err != nil {
		slog.Error("Failed to initialize Drive client", "error", err)
		os.Exit(1)
	}

	orchestrator := sync.NewOrchestrator(db, driveClient, extractor, db, sync.Options{
		BatchSize:       *batchSize,
		FileTimeout:     *fileTimeout,
		DefaultCurrency: *defaultCurrency,
		DefaultCategory: *defaultCategory,
	})

	count, err := orchestrator.Run(ctx)
	if err != nil {
		slog.Error("Sync run failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Sync run finished", "processed_count", count)

	service := invoice.NewService(db, extractor, nil, invoice.Defaults{Currency: *defaultCurrency, Category: *defaultCategory})
	if promoted, err := service.RefreshOverdue(); err != nil {
		slog.Warn("Overdue refresh failed", "error", err)
	} else if promoted > 0 {
		slog.Info("Promoted overdue invoices", "count", promoted)
	}

	fmt.Printf("processed %d new invoice(s)\n", count)
}
