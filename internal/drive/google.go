package drive

import (
	"context"
	"fmt"
	"io"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Google implements the Client interface over the Drive v3 API.
type Google struct {
	svc *drive.Service
}

// NewGoogle creates a Drive client. With no options it uses Application
// Default Credentials; pass option.WithCredentialsFile to use a service
// account key.
func NewGoogle(ctx context.Context, opts ...option.ClientOption) (*Google, error) {
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &Google{svc: svc}, nil
}

// ListFiles lists non-trashed image and PDF files under a folder. The
// mime filter in the query also excludes sub-folders. Listings are
// paginated; all pages are fetched.
func (g *Google) ListFiles(ctx context.Context, folderID string) ([]File, error) {
	query := fmt.Sprintf(
		"'%s' in parents and (mimeType contains 'image/' or mimeType = 'application/pdf') and trashed = false",
		folderID,
	)

	var files []File
	pageToken := ""
	for {
		call := g.svc.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, mimeType, webViewLink)").
			PageSize(100).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("listing folder %s: %w", folderID, err)
		}

		for _, f := range resp.Files {
			files = append(files, File{
				ID:          f.Id,
				Name:        f.Name,
				MimeType:    f.MimeType,
				WebViewLink: f.WebViewLink,
			})
		}

		if resp.NextPageToken == "" {
			return files, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Download fetches a file's content via media download.
func (g *Google) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := g.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", fileID, err)
	}
	return data, nil
}
