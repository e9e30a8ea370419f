package gateway

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
)

// FileUpload is one file handed to the ingestion pipeline. Content takes
// precedence over Open; Open lets batch callers defer reading until the
// file's chunk is submitted.
type FileUpload struct {
	Name     string
	Content  []byte
	Open     func() (io.ReadCloser, error)
	MIMEType string
	Metadata map[string]any
}

var errNoContent = errors.New("file has no content source")

func (f FileUpload) read() ([]byte, error) {
	if f.Content != nil {
		return f.Content, nil
	}
	if f.Open == nil {
		return nil, errNoContent
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return data, nil
}

func (f FileUpload) contentType() string {
	if f.MIMEType != "" {
		return f.MIMEType
	}
	if t := mime.TypeByExtension(filepath.Ext(f.Name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// UploadResult is the outcome for a single file.
type UploadResult struct {
	Success    bool   `json:"success"`
	Name       string `json:"name"`
	DocumentID string `json:"documentId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchUploadResult aggregates a batch upload. UploadedCount+FailedCount
// always equals the number of files submitted, and Results is in submission
// order.
type BatchUploadResult struct {
	Success       bool           `json:"success"`
	UploadedCount int            `json:"uploadedCount"`
	FailedCount   int            `json:"failedCount"`
	Results       []UploadResult `json:"results"`
}

// QueryOptions tunes an agent query. Zero values and nil pointers are left
// out of the request so the provider applies its own defaults.
type QueryOptions struct {
	Folder      string
	ChatID      string
	UserID      string
	Temperature *float64
	MaxTokens   *int
}

// RetrieveOptions filters and pages a document retrieval. Limit 0 means
// "provider default".
type RetrieveOptions struct {
	Query   string
	Folder  string
	Limit   int
	Offset  int
	Filters map[string]any
}

// UploadRecord is what the gateway reports to a Recorder after each file.
type UploadRecord struct {
	Name       string
	Folder     string
	MIMEType   string
	Size       int
	DocumentID string
	Success    bool
	Error      string
}
