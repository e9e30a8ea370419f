package statussync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/storage"
)

// DefaultPollInterval is the wait between two polls of the same document.
const DefaultPollInterval = 10 * time.Second

// idlePoll is how long Run sleeps when the queue has nothing due.
const idlePoll = time.Second

// StatusChecker fetches a document's processing state.
type StatusChecker interface {
	GetProcessingStatus(ctx context.Context, documentID string) (*provider.ProcessingStatus, error)
}

// Worker processes status_sync jobs from the queue.
type Worker struct {
	store   Store
	checker StatusChecker
	poll    time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewWorker creates a Worker. A non-positive pollInterval uses
// DefaultPollInterval.
func NewWorker(store Store, checker StatusChecker, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Worker{
		store:   store,
		checker: checker,
		poll:    pollInterval,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// Run processes jobs until ctx is cancelled. Jobs a previous process left
// running are requeued first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(); err != nil {
		w.logger.Error("requeueing stale jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued stale status sync jobs", "count", n)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		worked, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("status sync iteration failed", "error", err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idlePoll):
		}
	}
}

// RunOnce claims and handles one due job. It reports whether a job was
// claimed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, w.handle(ctx, job)
}

func (w *Worker) handle(ctx context.Context, job *storage.Job) error {
	var payload syncPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.DocumentID == "" {
		msg := "payload has no document_id"
		if err != nil {
			msg = fmt.Sprintf("parsing payload: %v", err)
		}
		return w.store.DiscardJob(job.ID, msg)
	}
	docID := payload.DocumentID

	st, err := w.checker.GetProcessingStatus(ctx, docID)
	if err != nil {
		if ge := provider.AsGatewayError(err); ge.IsNotFound() {
			w.logger.Warn("document unknown to provider", "document_id", docID)
			w.updateLedger(docID, storage.SyncAbandoned, ge.Message)
			return w.store.CompleteJob(job.ID)
		}
		w.logger.Warn("status poll failed", "document_id", docID, "attempt", job.Attempts+1, "error", err)
		if job.Attempts+1 >= job.MaxAttempts {
			w.updateLedger(docID, storage.SyncAbandoned, err.Error())
		}
		return w.store.FailJob(job.ID, err.Error())
	}

	status := string(st.Status)
	if status == "" {
		status = "unknown"
	}
	if st.Status.Terminal() {
		lastErr := ""
		if st.Status == provider.StatusFailed {
			lastErr = st.Message
		}
		w.updateLedger(docID, status, lastErr)
		w.logger.Info("document processing finished", "document_id", docID, "status", status)
		return w.store.CompleteJob(job.ID)
	}

	w.updateLedger(docID, status, "")
	requeued, err := w.store.RescheduleJob(job.ID, w.now().Add(w.poll), "status "+status)
	if err != nil {
		return fmt.Errorf("rescheduling job %s: %w", job.ID, err)
	}
	if !requeued {
		w.logger.Warn("giving up on status sync", "document_id", docID, "polls", job.MaxAttempts)
		w.updateLedger(docID, storage.SyncAbandoned, fmt.Sprintf("still %s after %d polls", status, job.MaxAttempts))
	}
	return nil
}

func (w *Worker) updateLedger(documentID, status, lastErr string) {
	err := w.store.UpdateUploadStatus(documentID, status, lastErr)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Warn("no ledger entry for document", "document_id", documentID)
		return
	}
	if err != nil {
		w.logger.Error("updating ledger", "document_id", documentID, "error", err)
	}
}
