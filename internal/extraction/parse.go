package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// dateFormats are the input formats normalized to YYYY-MM-DD. The model
// is asked for ISO dates but does not always comply.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"2006年01月02日",
	"2006年1月2日",
}

// parseInvoiceJSON parses a model response into an InvoiceData, tolerant
// of markdown fences and prose around the JSON object.
func parseInvoiceJSON(text string) (*InvoiceData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Bound to the outermost JSON object
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data InvoiceData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.VendorName = strings.TrimSpace(data.VendorName)
	if data.VendorName == "" {
		return nil, fmt.Errorf("missing required field: vendorName")
	}
	if data.TotalAmount <= 0 {
		return nil, fmt.Errorf("missing required field: totalAmount")
	}
	if strings.TrimSpace(data.DueDate) == "" {
		return nil, fmt.Errorf("missing required field: dueDate")
	}

	due, err := normalizeDate(data.DueDate)
	if err != nil {
		return nil, fmt.Errorf("invalid dueDate %q: %w", data.DueDate, err)
	}
	data.DueDate = due

	// Issue date is optional; drop it when unparseable so the caller
	// applies its default
	if data.IssueDate != "" {
		if issue, err := normalizeDate(data.IssueDate); err == nil {
			data.IssueDate = issue
		} else {
			data.IssueDate = ""
		}
	}

	if data.BankAccount != nil && *data.BankAccount == (BankAccountData{}) {
		data.BankAccount = nil
	}

	return &data, nil
}

// normalizeDate converts a date string to YYYY-MM-DD.
func normalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, format := range dateFormats {
		if d, err := time.Parse(format, value); err == nil {
			return d.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date format")
}
