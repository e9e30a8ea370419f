// Package statussync keeps the local upload ledger in step with the
// provider's processing state. Ledger records every upload outcome and
// queues a status poll for each accepted document; Worker drains that queue.
package statussync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/storage"
)

// JobType is the queue type of a status poll.
const JobType = "status_sync"

// DefaultMaxPolls bounds how many times one document is polled.
const DefaultMaxPolls = 60

// Store is the persistence the ledger and worker need.
type Store interface {
	SaveUpload(u storage.Upload) error
	UpdateUploadStatus(documentID, syncStatus, lastError string) error
	ListUploads(limit int, syncStatus string) ([]storage.Upload, error)
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	DiscardJob(id string, errMsg string) error
	RescheduleJob(id string, runAfter time.Time, note string) (bool, error)
	RequeueRunningJobs() (int64, error)
}

type syncPayload struct {
	DocumentID string `json:"document_id"`
}

// Ledger implements gateway.Recorder on top of Store.
type Ledger struct {
	store    Store
	track    bool
	maxPolls int
	logger   *slog.Logger
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithTracking controls whether accepted documents get a status poll queued.
// It is on by default.
func WithTracking(on bool) LedgerOption {
	return func(l *Ledger) { l.track = on }
}

// WithMaxPolls overrides DefaultMaxPolls.
func WithMaxPolls(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.maxPolls = n
		}
	}
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:    store,
		track:    true,
		maxPolls: DefaultMaxPolls,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordUpload stores one upload outcome.
func (l *Ledger) RecordUpload(_ context.Context, rec gateway.UploadRecord) error {
	status := storage.SyncPending
	switch {
	case !rec.Success:
		status = storage.SyncUploadFailed
	case rec.DocumentID == "":
		status = storage.SyncUntracked
	}

	err := l.store.SaveUpload(storage.Upload{
		ID:         uuid.New().String(),
		DocumentID: rec.DocumentID,
		Name:       rec.Name,
		Folder:     rec.Folder,
		MIMEType:   rec.MIMEType,
		Size:       int64(rec.Size),
		SyncStatus: status,
		LastError:  rec.Error,
	})
	if err != nil {
		return fmt.Errorf("saving upload %s: %w", rec.Name, err)
	}

	if status != storage.SyncPending || !l.track {
		return nil
	}
	payload, err := json.Marshal(syncPayload{DocumentID: rec.DocumentID})
	if err != nil {
		return fmt.Errorf("encoding sync payload: %w", err)
	}
	if err := l.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
		MaxAttempts: l.maxPolls,
	}); err != nil {
		return fmt.Errorf("queueing status sync for %s: %w", rec.DocumentID, err)
	}
	l.logger.Debug("status sync queued", "document_id", rec.DocumentID)
	return nil
}

// Uploads lists ledger entries, newest first.
func (l *Ledger) Uploads(limit int, syncStatus string) ([]storage.Upload, error) {
	return l.store.ListUploads(limit, syncStatus)
}
