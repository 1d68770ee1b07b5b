package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// invoiceExtractionPrompt is the shared prompt used by all model backends.
const invoiceExtractionPrompt = `You are analyzing an invoice document. Carefully read all text and extract detailed invoice and bank transfer information (振込先情報). Pay special attention to Japanese bank details: 銀行名, 支店名, 口座種別 (普通/当座), 口座番号, 口座名義.

Return ONLY valid JSON in this exact format:
{
  "vendorName": "issuing company name",
  "invoiceNumber": "invoice number if present",
  "totalAmount": 0,
  "currency": "ISO currency code, e.g. JPY or USD",
  "dueDate": "YYYY-MM-DD",
  "issueDate": "YYYY-MM-DD",
  "category": "e.g. Software, Utility, Marketing, Rent",
  "notes": "anything noteworthy",
  "bankAccount": {
    "bankName": "",
    "branchName": "",
    "accountType": "",
    "accountNumber": "",
    "accountName": ""
  }
}

Important:
- vendorName, totalAmount and dueDate must always be filled in
- totalAmount must be a number (not a string)
- Dates must be in YYYY-MM-DD format
- Omit fields you cannot find rather than guessing
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// renderPDF renders the first page of a PDF as a PNG image. Invoices are
// overwhelmingly single-page; multi-page attachments lose their tail.
func renderPDF(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeToPNG converts any supported image format to PNG.
func decodeToPNG(data []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Go's standard image package has no HEIC/HEIF support
	if isHEICData(data) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICData checks the ftyp box brands HEIC containers start with.
func isHEICData(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareDocument normalizes an invoice document for a vision model:
// PDFs are rendered to a PNG of their first page, every other format is
// re-encoded as PNG. The result is always PNG data.
func prepareDocument(data []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	if mimeType == "application/pdf" {
		pngData, err := renderPDF(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF: %w", err)
		}
		return pngData, nil
	}

	if mimeType != "image/png" || isHEICData(data) {
		pngData, err := decodeToPNG(data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image: %w", err)
		}
		return pngData, nil
	}

	return data, nil
}
