package drive

import "context"

// File is a candidate document listed from a cloud-drive folder.
type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	WebViewLink string `json:"web_view_link,omitempty"`
}

// Client defines the interface for drive listing and download operations.
type Client interface {
	// ListFiles returns the non-trashed image/PDF files directly under
	// the given folder. Sub-folders are not listed and not descended into.
	ListFiles(ctx context.Context, folderID string) ([]File, error)
	// Download fetches the raw bytes of a file
	Download(ctx context.Context, fileID string) ([]byte, error)
}
