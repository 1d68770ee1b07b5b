package invoice

import (
	"time"

	"github.com/zinto/invoice-tracker/internal/extraction"
)

// PaymentStatus is the lifecycle state of an invoice.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusPaid      PaymentStatus = "PAID"
	StatusOverdue   PaymentStatus = "OVERDUE"
	StatusCancelled PaymentStatus = "CANCELLED"
	// StatusDeleted marks a soft-deleted invoice. Deleted invoices are
	// excluded from listings but never removed from the store.
	StatusDeleted PaymentStatus = "DELETED"
)

// BankAccount holds transfer destination details extracted from an
// invoice. Extraction is best-effort, so every field is optional.
type BankAccount struct {
	BankName      string `json:"bank_name,omitempty" firestore:"bankName,omitempty"`
	BranchName    string `json:"branch_name,omitempty" firestore:"branchName,omitempty"`
	AccountType   string `json:"account_type,omitempty" firestore:"accountType,omitempty"`
	AccountNumber string `json:"account_number,omitempty" firestore:"accountNumber,omitempty"`
	AccountName   string `json:"account_name,omitempty" firestore:"accountName,omitempty"`
}

// Invoice is a persisted invoice record.
type Invoice struct {
	ID            string        `json:"id" firestore:"-"`
	SourceFileID  string        `json:"source_file_id,omitempty" firestore:"sourceFileId,omitempty"`
	VendorName    string        `json:"vendor_name" firestore:"vendorName"`
	InvoiceNumber string        `json:"invoice_number" firestore:"invoiceNumber"`
	Amount        float64       `json:"amount" firestore:"amount"`
	Currency      string        `json:"currency" firestore:"currency"`
	DueDate       string        `json:"due_date" firestore:"dueDate"`     // YYYY-MM-DD
	IssueDate     string        `json:"issue_date" firestore:"issueDate"` // YYYY-MM-DD
	Status        PaymentStatus `json:"status" firestore:"status"`
	Category      string        `json:"category" firestore:"category"`
	Notes         string        `json:"notes,omitempty" firestore:"notes,omitempty"`
	FileName      string        `json:"file_name" firestore:"fileName"`
	WebViewLink   string        `json:"web_view_link,omitempty" firestore:"webViewLink,omitempty"`
	BankAccount   *BankAccount  `json:"bank_account,omitempty" firestore:"bankAccount,omitempty"`
	// StoredFile is the archive path of the original document for
	// manually uploaded invoices. Drive-sourced invoices carry a
	// WebViewLink instead.
	StoredFile  string    `json:"stored_file,omitempty" firestore:"storedFile,omitempty"`
	PaymentDate string    `json:"payment_date,omitempty" firestore:"paymentDate,omitempty"`
	ExtractedAt time.Time `json:"extracted_at" firestore:"extractedAt"`
}

// DriveFolder is a watched cloud-drive folder. Disabled folders are
// skipped by every sync run.
type DriveFolder struct {
	ID        string    `json:"id" firestore:"-"`
	Name      string    `json:"name" firestore:"name"`
	FolderID  string    `json:"folder_id" firestore:"folderId"`
	Enabled   bool      `json:"enabled" firestore:"enabled"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// FromExtraction builds a PENDING invoice from an extraction result,
// applying the configured currency/category defaults and defaulting a
// missing issue date to today. The caller assigns the ID and, for
// drive-sourced invoices, the source file fields.
func FromExtraction(data *extraction.InvoiceData, fileName, defaultCurrency, defaultCategory string, now time.Time) *Invoice {
	inv := &Invoice{
		VendorName:    data.VendorName,
		InvoiceNumber: data.InvoiceNumber,
		Amount:        data.TotalAmount,
		Currency:      data.Currency,
		DueDate:       data.DueDate,
		IssueDate:     data.IssueDate,
		Status:        StatusPending,
		Category:      data.Category,
		Notes:         data.Notes,
		FileName:      fileName,
		ExtractedAt:   now,
	}
	if inv.Currency == "" {
		inv.Currency = defaultCurrency
	}
	if inv.Category == "" {
		inv.Category = defaultCategory
	}
	if inv.IssueDate == "" {
		inv.IssueDate = now.Format("2006-01-02")
	}
	if data.BankAccount != nil {
		inv.BankAccount = &BankAccount{
			BankName:      data.BankAccount.BankName,
			BranchName:    data.BankAccount.BranchName,
			AccountType:   data.BankAccount.AccountType,
			AccountNumber: data.BankAccount.AccountNumber,
			AccountName:   data.BankAccount.AccountName,
		}
	}
	return inv
}
