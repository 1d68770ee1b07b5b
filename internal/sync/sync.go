// Package sync drives the deduplicated ingestion pipeline: it scans the
// enabled watched folders, finds files that have not produced an invoice
// yet, downloads and extracts them, and persists one invoice per source
// file. Per-file and per-folder failures are logged and skipped so one
// bad document never aborts a run; a failed file is retried on the next
// run because it never enters the ledger.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zinto/invoice-tracker/internal/drive"
	"github.com/zinto/invoice-tracker/internal/extraction"
	"github.com/zinto/invoice-tracker/internal/invoice"
)

// FolderSource lists the watched-folder registry.
type FolderSource interface {
	ListFolders() ([]*invoice.DriveFolder, error)
}

// InvoiceSink is the slice of the store the orchestrator needs: the
// dedup ledger lookup and the writer. The store offers no atomic
// check-and-insert across the two, which is why concurrent runs are
// excluded with a lock.
type InvoiceSink interface {
	FindBySourceFileID(fileID string) (*invoice.Invoice, error)
	SaveInvoice(inv *invoice.Invoice) error
}

// Options tune a sync run.
type Options struct {
	// BatchSize bounds how many files are processed concurrently within
	// one folder. Batches run strictly one after another.
	BatchSize int
	// FileTimeout caps the download + extraction time of a single file.
	// Expiry is a file-level failure, not a stalled batch.
	FileTimeout time.Duration
	// Currency and Category defaults for extraction results that omit them.
	DefaultCurrency string
	DefaultCategory string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 3
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = 2 * time.Minute
	}
	if o.DefaultCurrency == "" {
		o.DefaultCurrency = "JPY"
	}
	if o.DefaultCategory == "" {
		o.DefaultCategory = "Other"
	}
	return o
}

// Orchestrator runs sync passes over the watched folders.
type Orchestrator struct {
	folders   FolderSource
	drive     drive.Client
	extractor extraction.Extractor
	sink      InvoiceSink
	opts      Options

	idGenerator invoice.IDGenerator
	timeSource  invoice.TimeSource

	mu stdsync.Mutex
}

// NewOrchestrator creates an Orchestrator with default ID generator and
// time source.
func NewOrchestrator(folders FolderSource, driveClient drive.Client, extractor extraction.Extractor, sink InvoiceSink, opts Options) *Orchestrator {
	return &Orchestrator{
		folders:     folders,
		drive:       driveClient,
		extractor:   extractor,
		sink:        sink,
		opts:        opts.withDefaults(),
		idGenerator: invoice.DefaultIDGenerator(),
		timeSource:  invoice.DefaultTimeSource(),
	}
}

// NewOrchestratorWithDeps creates an Orchestrator with custom ID and
// clock seams for testing.
func NewOrchestratorWithDeps(folders FolderSource, driveClient drive.Client, extractor extraction.Extractor, sink InvoiceSink, opts Options, idGen invoice.IDGenerator, timeSrc invoice.TimeSource) *Orchestrator {
	o := NewOrchestrator(folders, driveClient, extractor, sink, opts)
	o.idGenerator = idGen
	o.timeSource = timeSrc
	return o
}

// Run executes one sync pass and returns the number of newly persisted
// invoices. Running it again with no new files produces no new records.
// Overlapping invocations are rejected with invoice.ErrSyncRunning: the
// ledger check and the insert are separate store operations, so two
// concurrent passes could both see a file as unseen.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	if !o.mu.TryLock() {
		return 0, invoice.ErrSyncRunning
	}
	defer o.mu.Unlock()

	folders, err := o.folders.ListFolders()
	if err != nil {
		return 0, fmt.Errorf("listing watched folders: %w", err)
	}

	var total atomic.Int64
	for _, folder := range folders {
		if !folder.Enabled {
			continue
		}
		o.syncFolder(ctx, folder, &total)
	}
	return int(total.Load()), nil
}

// syncFolder ingests one folder. Listing failures are folder-level: the
// folder contributes zero files and the run moves on.
func (o *Orchestrator) syncFolder(ctx context.Context, folder *invoice.DriveFolder, total *atomic.Int64) {
	slog.Info("Scanning folder", "name", folder.Name, "folder_id", folder.FolderID)

	files, err := o.drive.ListFiles(ctx, folder.FolderID)
	if err != nil {
		slog.Error("Failed to list folder, skipping",
			"name", folder.Name,
			"folder_id", folder.FolderID,
			"error", err,
		)
		return
	}

	candidates := make([]drive.File, 0, len(files))
	for _, f := range files {
		if isCandidate(f) {
			candidates = append(candidates, f)
		}
	}

	// Batches run sequentially; files within a batch run concurrently.
	// Per-file errors are handled in processFile, so the group never
	// cancels early.
	for start := 0; start < len(candidates); start += o.opts.BatchSize {
		end := min(start+o.opts.BatchSize, len(candidates))
		g, gctx := errgroup.WithContext(ctx)
		for _, f := range candidates[start:end] {
			file := f
			g.Go(func() error {
				if o.processFile(gctx, folder, file) {
					total.Add(1)
				}
				return nil
			})
		}
		g.Wait()
	}
}

// processFile runs the dedup gate, download, extraction and persistence
// for a single candidate. Returns true when a new invoice was persisted.
// Every failure path logs and returns false; the file stays out of the
// ledger and is retried on the next run.
func (o *Orchestrator) processFile(ctx context.Context, folder *invoice.DriveFolder, file drive.File) bool {
	existing, err := o.sink.FindBySourceFileID(file.ID)
	if err != nil {
		slog.Error("Ledger lookup failed", "file", file.Name, "file_id", file.ID, "error", err)
		return false
	}
	if existing != nil {
		// Already ingested (possibly soft-deleted since); not a failure
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.FileTimeout)
	defer cancel()

	slog.Info("Processing file", "file", file.Name, "file_id", file.ID, "folder", folder.Name)

	data, err := o.drive.Download(ctx, file.ID)
	if err != nil {
		slog.Error("Failed to download file", "file", file.Name, "file_id", file.ID, "error", err)
		return false
	}

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	result, err := o.extractor.ExtractInvoice(ctx, data, mimeType)
	if err != nil {
		slog.Error("Failed to extract invoice", "file", file.Name, "file_id", file.ID, "error", err)
		return false
	}

	inv := invoice.FromExtraction(result, file.Name, o.opts.DefaultCurrency, o.opts.DefaultCategory, o.timeSource.Now())
	inv.ID = o.idGenerator.Generate()
	inv.SourceFileID = file.ID
	inv.WebViewLink = file.WebViewLink

	if err := o.sink.SaveInvoice(inv); err != nil {
		slog.Error("Failed to save invoice", "file", file.Name, "file_id", file.ID, "error", err)
		return false
	}

	slog.Info("Ingested invoice",
		"file", file.Name,
		"vendor", inv.VendorName,
		"amount", inv.Amount,
		"currency", inv.Currency,
	)
	return true
}

// isCandidate reports whether a listed file looks like an invoice image
// or PDF. The extension check backs up listing APIs that omit reliable
// mime types.
func isCandidate(f drive.File) bool {
	mimeType := strings.ToLower(strings.TrimSpace(f.MimeType))
	if strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf" {
		return true
	}
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".pdf", ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
