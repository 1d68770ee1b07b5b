package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// invoiceSchema constrains Gemini's response to machine-parseable JSON
// with the invoice field set.
var invoiceSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"vendorName":    {Type: genai.TypeString},
		"invoiceNumber": {Type: genai.TypeString},
		"totalAmount":   {Type: genai.TypeNumber},
		"currency":      {Type: genai.TypeString},
		"dueDate":       {Type: genai.TypeString, Description: "YYYY-MM-DD format"},
		"issueDate":     {Type: genai.TypeString, Description: "YYYY-MM-DD format"},
		"category":      {Type: genai.TypeString, Description: "e.g., Software, Utility, Marketing, Rent"},
		"notes":         {Type: genai.TypeString},
		"bankAccount": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"bankName":      {Type: genai.TypeString},
				"branchName":    {Type: genai.TypeString},
				"accountType":   {Type: genai.TypeString, Description: "e.g. 普通, 当座"},
				"accountNumber": {Type: genai.TypeString},
				"accountName":   {Type: genai.TypeString},
			},
		},
	},
	Required: []string{"vendorName", "totalAmount", "dueDate"},
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = invoiceSchema

	return &Gemini{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// ExtractInvoice analyzes an invoice document and extracts structured data
func (g *Gemini) ExtractInvoice(ctx context.Context, data []byte, contentType string) (*InvoiceData, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Normalize to PNG so one inline format covers PDFs and phone photos
	imageData, err := prepareDocument(data, contentType)
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.ImageData("png", imageData),
		genai.Text("Extract detailed invoice and bank transfer information (振込先情報) from this document. Especially focus on Japanese bank details like 銀行名, 支店名, 口座番号, 口座名義."),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	result, err := parseInvoiceJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing invoice data: %w", err)
	}
	return result, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
