package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zinto/invoice-tracker/internal/extraction"
)

// IDGenerator generates store-assigned identifiers
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// DefaultIDGenerator returns the UUID-based generator used outside tests
func DefaultIDGenerator() IDGenerator {
	return &uuidGenerator{}
}

// DefaultTimeSource returns the wall-clock time source used outside tests
func DefaultTimeSource() TimeSource {
	return &defaultTimeSource{}
}

// Defaults are applied to extraction results with missing optional fields.
type Defaults struct {
	Currency string
	Category string
}

// Service handles invoice and watched-folder operations
type Service struct {
	db          DB
	extractor   extraction.Extractor
	storage     Storage
	defaults    Defaults
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor extraction.Extractor, storage Storage, defaults Defaults) *Service {
	if defaults.Currency == "" {
		defaults.Currency = "JPY"
	}
	if defaults.Category == "" {
		defaults.Category = "Other"
	}
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		defaults:    defaults,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor extraction.Extractor, storage Storage, defaults Defaults, idGen IDGenerator, timeSrc TimeSource) *Service {
	s := NewService(db, extractor, storage, defaults)
	s.idGenerator = idGen
	s.timeSource = timeSrc
	return s
}

// sanitizeFilename cleans up a filename before using it in an archive path
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")
	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "invoice"
	}
	return base + ext
}

// ProcessUpload extracts a manually uploaded document and persists the
// resulting invoice. Uploads bypass the drive pipeline entirely: there is
// no source file ID, so no dedup applies, and the original bytes are
// archived for later preview.
func (s *Service) ProcessUpload(ctx context.Context, filename string, data []byte, contentType string) (*Invoice, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	storedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("archiving file: %w", err)
	}

	result, err := s.extractor.ExtractInvoice(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to extract invoice",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		// Drop the archived file since extraction failed
		s.storage.Delete(storedPath)
		return nil, fmt.Errorf("extracting invoice: %w", err)
	}

	inv := FromExtraction(result, filename, s.defaults.Currency, s.defaults.Category, now)
	inv.ID = id
	inv.StoredFile = storedPath

	if err := s.db.SaveInvoice(inv); err != nil {
		s.storage.Delete(storedPath)
		return nil, fmt.Errorf("saving invoice: %w", err)
	}

	return inv, nil
}

// GetInvoice retrieves a non-deleted invoice by ID
func (s *Service) GetInvoice(id string) (*Invoice, error) {
	inv, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if inv.Status == StatusDeleted {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return inv, nil
}

// ListInvoices returns all non-deleted invoices, newest extraction first
func (s *Service) ListInvoices() ([]*Invoice, error) {
	all, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	invoices := make([]*Invoice, 0, len(all))
	for _, inv := range all {
		if inv.Status != StatusDeleted {
			invoices = append(invoices, inv)
		}
	}
	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].ExtractedAt.After(invoices[j].ExtractedAt)
	})
	return invoices, nil
}

// SetStatus applies a manual status transition. PAID stamps the payment
// date, reverting to PENDING clears it. DELETED is not reachable here;
// use SoftDelete.
func (s *Service) SetStatus(id string, status PaymentStatus) (*Invoice, error) {
	inv, err := s.GetInvoice(id)
	if err != nil {
		return nil, err
	}

	switch status {
	case StatusPaid:
		inv.PaymentDate = s.timeSource.Now().Format("2006-01-02")
	case StatusPending, StatusCancelled:
		inv.PaymentDate = ""
	default:
		return nil, fmt.Errorf("invalid status transition to %s", status)
	}
	inv.Status = status

	if err := s.db.SaveInvoice(inv); err != nil {
		return nil, fmt.Errorf("saving invoice: %w", err)
	}
	return inv, nil
}

// SoftDelete marks an invoice DELETED. The record stays in the store so
// its source file remains in the dedup ledger.
func (s *Service) SoftDelete(id string) error {
	inv, err := s.GetInvoice(id)
	if err != nil {
		return err
	}
	inv.Status = StatusDeleted
	inv.PaymentDate = ""
	if err := s.db.SaveInvoice(inv); err != nil {
		return fmt.Errorf("saving invoice: %w", err)
	}
	return nil
}

// RefreshOverdue promotes PENDING invoices whose due date has passed to
// OVERDUE. Returns the number of invoices promoted.
func (s *Service) RefreshOverdue() (int, error) {
	invoices, err := s.ListInvoices()
	if err != nil {
		return 0, err
	}
	today := s.timeSource.Now().Format("2006-01-02")

	promoted := 0
	for _, inv := range invoices {
		if inv.Status != StatusPending || inv.DueDate == "" || inv.DueDate >= today {
			continue
		}
		inv.Status = StatusOverdue
		if err := s.db.SaveInvoice(inv); err != nil {
			return promoted, fmt.Errorf("saving invoice %s: %w", inv.ID, err)
		}
		promoted++
	}
	return promoted, nil
}

// GetInvoiceFile retrieves the archived document for an uploaded invoice
func (s *Service) GetInvoiceFile(id string) ([]byte, string, error) {
	inv, err := s.GetInvoice(id)
	if err != nil {
		return nil, "", err
	}
	if inv.StoredFile == "" {
		return nil, "", fmt.Errorf("invoice %s has no archived file: %w", id, ErrNotFound)
	}
	data, err := s.storage.Get(inv.StoredFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}
	return data, contentTypeForName(inv.StoredFile), nil
}

func contentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic", ".heif":
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

// AddFolder registers a drive folder for syncing, enabled by default
func (s *Service) AddFolder(name, folderID string) (*DriveFolder, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(folderID) == "" {
		return nil, fmt.Errorf("folder name and folder id are required")
	}
	folder := &DriveFolder{
		ID:        s.idGenerator.Generate(),
		Name:      strings.TrimSpace(name),
		FolderID:  strings.TrimSpace(folderID),
		Enabled:   true,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveFolder(folder); err != nil {
		return nil, fmt.Errorf("saving folder: %w", err)
	}
	return folder, nil
}

// ListFolders returns all watched folders, oldest first
func (s *Service) ListFolders() ([]*DriveFolder, error) {
	folders, err := s.db.ListFolders()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].CreatedAt.Before(folders[j].CreatedAt)
	})
	return folders, nil
}

// SetFolderEnabled toggles whether a folder participates in sync runs
func (s *Service) SetFolderEnabled(id string, enabled bool) (*DriveFolder, error) {
	folder, err := s.db.GetFolder(id)
	if err != nil {
		return nil, fmt.Errorf("getting folder: %w", err)
	}
	folder.Enabled = enabled
	if err := s.db.SaveFolder(folder); err != nil {
		return nil, fmt.Errorf("saving folder: %w", err)
	}
	return folder, nil
}

// RemoveFolder unregisters a watched folder. Invoices already ingested
// from it are untouched.
func (s *Service) RemoveFolder(id string) error {
	if err := s.db.DeleteFolder(id); err != nil {
		return fmt.Errorf("deleting folder: %w", err)
	}
	return nil
}
