package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/retry"
)

// requestState is a step in the life of one logical request:
//
//	RECEIVED → VALIDATING → (VALIDATION_FAILED | DISPATCHING) → (RETRYING)* → (SUCCEEDED | FAILED)
type requestState string

const (
	stateReceived         requestState = "RECEIVED"
	stateValidating       requestState = "VALIDATING"
	stateValidationFailed requestState = "VALIDATION_FAILED"
	stateDispatching      requestState = "DISPATCHING"
	stateRetrying         requestState = "RETRYING"
	stateSucceeded        requestState = "SUCCEEDED"
	stateFailed           requestState = "FAILED"
)

// tracker logs the state transitions of one request at debug level. It is
// used from the request's own goroutine only.
type tracker struct {
	logger *slog.Logger
	state  requestState
	start  time.Time
}

func newTracker(logger *slog.Logger, surface, op, requestID string) *tracker {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	t := &tracker{
		logger: logger.With("surface", surface, "op", op, "request_id", requestID),
		start:  time.Now(),
	}
	t.to(stateReceived)
	return t
}

func (t *tracker) to(s requestState, attrs ...any) {
	t.state = s
	t.logger.Debug("request state", append([]any{"state", s}, attrs...)...)
}

func (t *tracker) validating() {
	t.to(stateValidating)
}

// rejected ends the request in VALIDATION_FAILED.
func (t *tracker) rejected(ge *provider.GatewayError) *provider.GatewayError {
	t.to(stateValidationFailed, "error", ge.Message)
	return ge
}

// dispatch moves to DISPATCHING and returns a context whose retries are
// reported as RETRYING transitions.
func (t *tracker) dispatch(ctx context.Context) context.Context {
	t.to(stateDispatching)
	return retry.WithHook(ctx, func(attempt int, delay time.Duration, err *provider.GatewayError) {
		attrs := []any{"attempt", attempt, "delay", delay}
		if err != nil {
			attrs = append(attrs, "kind", err.Kind, "status", err.Status)
		}
		t.to(stateRetrying, attrs...)
	})
}

// finish ends the request in SUCCEEDED or FAILED.
func (t *tracker) finish(err error) {
	elapsed := time.Since(t.start)
	if err == nil {
		t.to(stateSucceeded, "elapsed", elapsed)
		return
	}
	ge := provider.AsGatewayError(err)
	t.to(stateFailed, "elapsed", elapsed, "kind", ge.Kind, "status", ge.Status, "attempts", ge.Attempts)
}

// finishBatch ends a batch upload. Any failed file makes the request FAILED,
// even though the response itself is a normal 200.
func (t *tracker) finishBatch(res gateway.BatchUploadResult) {
	attrs := []any{"elapsed", time.Since(t.start), "uploaded", res.UploadedCount, "failed", res.FailedCount}
	if res.FailedCount == 0 {
		t.to(stateSucceeded, attrs...)
		return
	}
	t.to(stateFailed, attrs...)
}
