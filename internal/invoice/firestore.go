package invoice

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	invoiceCollection = "invoices"
	folderCollection  = "driveFolders"

	firestoreTimeout = 15 * time.Second
)

// FirestoreDB implements the DB interface on Cloud Firestore, for GCP
// deployments where a local bolt file is not an option. Documents keep
// their store-assigned IDs in the document ref, not in the payload.
type FirestoreDB struct {
	client *firestore.Client
}

// NewFirestoreDB creates a Firestore-backed store for the given project.
func NewFirestoreDB(ctx context.Context, projectID string) (*FirestoreDB, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore store")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreDB{client: client}, nil
}

func firestoreCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), firestoreTimeout)
}

// SaveInvoice creates or replaces an invoice
func (f *FirestoreDB) SaveInvoice(inv *Invoice) error {
	ctx, cancel := firestoreCtx()
	defer cancel()
	if _, err := f.client.Collection(invoiceCollection).Doc(inv.ID).Set(ctx, inv); err != nil {
		return fmt.Errorf("saving invoice %s: %w", inv.ID, err)
	}
	return nil
}

// GetInvoice retrieves an invoice by ID
func (f *FirestoreDB) GetInvoice(id string) (*Invoice, error) {
	ctx, cancel := firestoreCtx()
	defer cancel()
	doc, err := f.client.Collection(invoiceCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting invoice %s: %w", id, err)
	}
	var inv Invoice
	if err := doc.DataTo(&inv); err != nil {
		return nil, fmt.Errorf("decoding invoice %s: %w", id, err)
	}
	inv.ID = doc.Ref.ID
	return &inv, nil
}

// ListInvoices returns all invoices ordered by extraction time, newest
// first. The service sorts again, so backends need not agree on order.
func (f *FirestoreDB) ListInvoices() ([]*Invoice, error) {
	ctx, cancel := firestoreCtx()
	defer cancel()

	invoices := make([]*Invoice, 0)
	iter := f.client.Collection(invoiceCollection).
		OrderBy("extractedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return invoices, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing invoices: %w", err)
		}
		var inv Invoice
		if err := doc.DataTo(&inv); err != nil {
			return nil, fmt.Errorf("decoding invoice %s: %w", doc.Ref.ID, err)
		}
		inv.ID = doc.Ref.ID
		invoices = append(invoices, &inv)
	}
}

// FindBySourceFileID queries the dedup ledger by drive file ID.
func (f *FirestoreDB) FindBySourceFileID(fileID string) (*Invoice, error) {
	if fileID == "" {
		return nil, nil
	}
	ctx, cancel := firestoreCtx()
	defer cancel()

	iter := f.client.Collection(invoiceCollection).
		Where("sourceFileId", "==", fileID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying source file %s: %w", fileID, err)
	}
	var inv Invoice
	if err := doc.DataTo(&inv); err != nil {
		return nil, fmt.Errorf("decoding invoice %s: %w", doc.Ref.ID, err)
	}
	inv.ID = doc.Ref.ID
	return &inv, nil
}

// SaveFolder creates or replaces a watched folder
func (f *FirestoreDB) SaveFolder(folder *DriveFolder) error {
	ctx, cancel := firestoreCtx()
	defer cancel()
	if _, err := f.client.Collection(folderCollection).Doc(folder.ID).Set(ctx, folder); err != nil {
		return fmt.Errorf("saving folder %s: %w", folder.ID, err)
	}
	return nil
}

// GetFolder retrieves a watched folder by ID
func (f *FirestoreDB) GetFolder(id string) (*DriveFolder, error) {
	ctx, cancel := firestoreCtx()
	defer cancel()
	doc, err := f.client.Collection(folderCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting folder %s: %w", id, err)
	}
	var folder DriveFolder
	if err := doc.DataTo(&folder); err != nil {
		return nil, fmt.Errorf("decoding folder %s: %w", id, err)
	}
	folder.ID = doc.Ref.ID
	return &folder, nil
}

// ListFolders returns all watched folders
func (f *FirestoreDB) ListFolders() ([]*DriveFolder, error) {
	ctx, cancel := firestoreCtx()
	defer cancel()

	folders := make([]*DriveFolder, 0)
	iter := f.client.Collection(folderCollection).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return folders, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing folders: %w", err)
		}
		var folder DriveFolder
		if err := doc.DataTo(&folder); err != nil {
			return nil, fmt.Errorf("decoding folder %s: %w", doc.Ref.ID, err)
		}
		folder.ID = doc.Ref.ID
		folders = append(folders, &folder)
	}
}

// DeleteFolder removes a watched folder
func (f *FirestoreDB) DeleteFolder(id string) error {
	ctx, cancel := firestoreCtx()
	defer cancel()
	ref := f.client.Collection(folderCollection).Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("getting folder %s: %w", id, err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("deleting folder %s: %w", id, err)
	}
	return nil
}

// Close closes the store connection
func (f *FirestoreDB) Close() error {
	return f.client.Close()
}
