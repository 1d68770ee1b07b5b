package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	invoiceBucketName = "invoices"
	folderBucketName  = "folders"
)

// ErrNotFound is returned when a record does not exist (or, for
// invoices, has been soft-deleted).
var ErrNotFound = errors.New("not found")

// ErrSyncRunning is returned when a sync run is already in flight.
var ErrSyncRunning = errors.New("sync already running")

// DB defines the interface for store operations
type DB interface {
	// SaveInvoice creates or replaces an invoice
	SaveInvoice(inv *Invoice) error

	// GetInvoice retrieves an invoice by ID; ErrNotFound when missing
	GetInvoice(id string) (*Invoice, error)

	// ListInvoices returns all invoices, including soft-deleted ones,
	// in no particular order
	ListInvoices() ([]*Invoice, error)

	// FindBySourceFileID returns the invoice ingested from the given
	// drive file, in any status including DELETED, or nil when the file
	// has never been ingested. This is the dedup ledger.
	FindBySourceFileID(fileID string) (*Invoice, error)

	// SaveFolder creates or replaces a watched folder
	SaveFolder(folder *DriveFolder) error

	// GetFolder retrieves a watched folder by ID; ErrNotFound when missing
	GetFolder(id string) (*DriveFolder, error)

	// ListFolders returns all watched folders
	ListFolders() ([]*DriveFolder, error)

	// DeleteFolder removes a watched folder; ErrNotFound when missing
	DeleteFolder(id string) error

	// Close closes the store connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(invoiceBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(folderBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveInvoice creates or replaces an invoice
func (b *BoltDB) SaveInvoice(inv *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		data, err := json.Marshal(inv)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return bucket.Put([]byte(inv.ID), data)
	})
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns all invoices
func (b *BoltDB) ListInvoices() ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			invoices = append(invoices, &inv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// FindBySourceFileID scans for an invoice with the given source file ID.
// Soft-deleted invoices match too, so a deleted invoice keeps its source
// file out of the ingestion pipeline.
func (b *BoltDB) FindBySourceFileID(fileID string) (*Invoice, error) {
	if fileID == "" {
		return nil, nil
	}
	var found *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if inv.SourceFileID == fileID {
				found = &inv
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// SaveFolder creates or replaces a watched folder
func (b *BoltDB) SaveFolder(folder *DriveFolder) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(folderBucketName))
		data, err := json.Marshal(folder)
		if err != nil {
			return fmt.Errorf("marshaling folder: %w", err)
		}
		return bucket.Put([]byte(folder.ID), data)
	})
}

// GetFolder retrieves a watched folder by ID
func (b *BoltDB) GetFolder(id string) (*DriveFolder, error) {
	var folder *DriveFolder
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(folderBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &folder)
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// ListFolders returns all watched folders
func (b *BoltDB) ListFolders() ([]*DriveFolder, error) {
	folders := make([]*DriveFolder, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(folderBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var folder DriveFolder
			if err := json.Unmarshal(v, &folder); err != nil {
				return fmt.Errorf("unmarshaling folder: %w", err)
			}
			folders = append(folders, &folder)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// DeleteFolder removes a watched folder
func (b *BoltDB) DeleteFolder(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(folderBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the store connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
