// Package gateway is the policy layer between docgate's adapters and the
// provider: ingestion, agent queries, retrieval, folders and processing
// status, each routed through the retry engine where the call is safe to
// replay.
package gateway

import (
	"context"
	"log/slog"

	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/retry"
)

// DefaultBatchSize is the number of files sent per batch request.
const DefaultBatchSize = 10

// Transport is the provider client surface the gateway needs.
type Transport interface {
	Send(ctx context.Context, req provider.Request) (*provider.Response, error)
	Config() provider.Config
}

// Recorder persists upload outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordUpload(ctx context.Context, rec UploadRecord) error
}

// BatchObserver is told the outcome of every submitted chunk.
type BatchObserver interface {
	ObserveChunk(files, uploaded, failed int)
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder installs an upload ledger.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithDefaultFolder sets a service-level folder that sits between an explicit
// folder argument and the provider config default.
func WithDefaultFolder(name string) Option {
	return func(s *Service) { s.defaultFolder = name }
}

// WithBatchObserver installs a chunk observer.
func WithBatchObserver(o BatchObserver) Option {
	return func(s *Service) { s.batchObserver = o }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service implements the gateway operations. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	transport     Transport
	policy        retry.Policy
	recorder      Recorder
	batchObserver BatchObserver
	batchSize     int
	defaultFolder string
	logger        *slog.Logger
}

// New creates a Service that sends through t and retries with policy.
func New(t Transport, policy retry.Policy, opts ...Option) *Service {
	s := &Service{
		transport: t,
		policy:    policy,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether the provider has credentials.
func (s *Service) Configured() bool {
	return s.transport.Config().Configured()
}

// CheckConfigured returns the configuration error every provider call would
// fail with, or nil.
func (s *Service) CheckConfigured() error {
	if ge := s.transport.Config().Check(); ge != nil {
		return ge
	}
	return nil
}

// BatchSize returns the chunk size used by UploadFiles.
func (s *Service) BatchSize() int {
	return s.batchSize
}

func (s *Service) resolveFolder(explicit string) string {
	return ResolveFolder(explicit, s.defaultFolder, s.transport.Config().DefaultFolder)
}
