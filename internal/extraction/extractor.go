package extraction

import "context"

// BankAccountData contains transfer destination fields extracted from a
// document. All fields are optional.
type BankAccountData struct {
	BankName      string `json:"bankName"`
	BranchName    string `json:"branchName"`
	AccountType   string `json:"accountType"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// InvoiceData contains structured information extracted from an invoice
// document. VendorName, TotalAmount and DueDate are required; everything
// else may be empty.
type InvoiceData struct {
	VendorName    string           `json:"vendorName"`
	InvoiceNumber string           `json:"invoiceNumber"`
	TotalAmount   float64          `json:"totalAmount"`
	Currency      string           `json:"currency"`
	DueDate       string           `json:"dueDate"`   // YYYY-MM-DD
	IssueDate     string           `json:"issueDate"` // YYYY-MM-DD
	Category      string           `json:"category"`
	Notes         string           `json:"notes"`
	BankAccount   *BankAccountData `json:"bankAccount"`
}

// Extractor defines the interface for invoice extraction backends.
type Extractor interface {
	// ExtractInvoice analyzes an invoice image/PDF and extracts structured data
	ExtractInvoice(ctx context.Context, data []byte, contentType string) (*InvoiceData, error)
	// Close closes the extractor and releases resources
	Close() error
}
