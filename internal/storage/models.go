package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Sync states of a ledger entry. The provider processing states are stored
// as-is; SyncUploadFailed marks an upload that never produced a document and
// SyncUntracked one the provider accepted without returning a document id.
const (
	SyncUploadFailed = "upload_failed"
	SyncUntracked    = "untracked"
	SyncPending      = "pending"
	SyncProcessing   = "processing"
	SyncCompleted    = "completed"
	SyncFailed       = "failed"
	SyncAbandoned    = "abandoned"
)

// Upload is one row of the upload ledger.
type Upload struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId,omitempty"`
	Name       string    `json:"name"`
	Folder     string    `json:"folder,omitempty"`
	MIMEType   string    `json:"mimeType,omitempty"`
	Size       int64     `json:"size"`
	SyncStatus string    `json:"syncStatus"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
