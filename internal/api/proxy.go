package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/metrics"
	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/storage"
)

const (
	DefaultUploadTimeout  = 5 * time.Minute
	DefaultRequestTimeout = 90 * time.Second

	maxRequestBodySize = 1 << 20 // 1MB
)

// Gateway is the set of gateway operations the adapters expose.
type Gateway interface {
	Configured() bool
	CheckConfigured() error
	UploadFile(ctx context.Context, file gateway.FileUpload, folder string) (gateway.UploadResult, error)
	UploadFiles(ctx context.Context, files []gateway.FileUpload, folder string) gateway.BatchUploadResult
	AgentQuery(ctx context.Context, text string, opts gateway.QueryOptions) (*provider.AgentResponse, error)
	RetrieveDocuments(ctx context.Context, opts gateway.RetrieveOptions) ([]provider.Document, error)
	GetProcessingStatus(ctx context.Context, documentID string) (*provider.ProcessingStatus, error)
	CreateFolder(ctx context.Context, name, description string) (*provider.FolderInfo, error)
	GetFolderInfo(ctx context.Context, name string) (*provider.FolderInfo, error)
	DeleteFolder(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

// UploadLister reads the local upload ledger.
type UploadLister interface {
	Uploads(limit int, syncStatus string) ([]storage.Upload, error)
}

// ProxyDeps holds dependencies for the HTTP proxy.
type ProxyDeps struct {
	Gateway Gateway
	Uploads UploadLister     // optional; /v1/uploads is not routed when nil
	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger

	UploadTimeout  time.Duration
	RequestTimeout time.Duration
}

func (d ProxyDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewProxyHandler returns the REST surface of the gateway.
func NewProxyHandler(deps ProxyDeps) http.Handler {
	uploadTimeout := deps.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	requestTimeout := deps.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Get("/health", handleHealth)
	r.With(requireConfigured(deps.Gateway), withDeadline(requestTimeout)).
		Get("/health/provider", handleProviderHealth(deps))

	r.Route("/v1", func(r chi.Router) {
		if deps.Uploads != nil {
			r.Get("/uploads", handleListUploads(deps))
		}

		r.Group(func(r chi.Router) {
			r.Use(requireConfigured(deps.Gateway))

			r.With(withDeadline(uploadTimeout)).Post("/ingest/file", handleUploadFile(deps))
			r.With(withDeadline(uploadTimeout)).Post("/ingest/files", handleUploadFiles(deps))

			r.Group(func(r chi.Router) {
				r.Use(withDeadline(requestTimeout))
				r.Post("/agent", handleAgentQuery(deps))
				r.Get("/documents", handleRetrieve(deps))
				r.Get("/documents/{id}/status", handleProcessingStatus(deps))
				r.Post("/folders", handleCreateFolder(deps))
				r.Get("/folders/{name}", handleGetFolder(deps))
				r.Delete("/folders/{name}", handleDeleteFolder(deps))
			})
		})
	})

	return r
}

// requireConfigured short-circuits with 503 NOT_CONFIGURED before any
// provider call when the gateway has no credentials.
func requireConfigured(gw Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gw.Configured() {
				httpError(w, http.StatusServiceUnavailable, codeNotConfigured, "document provider is not configured")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withDeadline bounds the whole handler, independent of the transport and
// retry timeouts underneath it.
func withDeadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestTracker(deps ProxyDeps, r *http.Request, op string) *tracker {
	return newTracker(deps.logger(), "http", op, middleware.GetReqID(r.Context()))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleProviderHealth(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Gateway.Ping(r.Context()); err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": "reachable"})
	}
}

type agentRequest struct {
	Query       string   `json:"query"`
	Folder      string   `json:"folder"`
	ChatID      string   `json:"chatId"`
	UserID      string   `json:"userId"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"maxTokens"`
}

func handleAgentQuery(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "agent_query")
		t.validating()

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req agentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeGatewayError(w, t.rejected(provider.NewValidationError("invalid request body: %v", err)))
			return
		}
		opts := gateway.QueryOptions{
			Folder:      req.Folder,
			ChatID:      req.ChatID,
			UserID:      req.UserID,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}
		if ge := checkQuery(req.Query, opts); ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}

		resp, err := deps.Gateway.AgentQuery(t.dispatch(r.Context()), req.Query, opts)
		t.finish(err)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type retrieveResponse struct {
	Documents []provider.Document `json:"documents"`
	HasMore   bool                `json:"hasMore"`
}

func handleRetrieve(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "retrieve_documents")
		t.validating()

		q := r.URL.Query()
		opts := gateway.RetrieveOptions{
			Query:  q.Get("query"),
			Folder: q.Get("folder"),
		}
		var err error
		if opts.Limit, err = intParam(q.Get("limit")); err != nil {
			writeGatewayError(w, t.rejected(provider.NewValidationError("limit: %v", err)))
			return
		}
		if opts.Offset, err = intParam(q.Get("offset")); err != nil {
			writeGatewayError(w, t.rejected(provider.NewValidationError("offset: %v", err)))
			return
		}
		if raw := q.Get("filters"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &opts.Filters); err != nil {
				writeGatewayError(w, t.rejected(provider.NewValidationError("filters must be a JSON object: %v", err)))
				return
			}
		}
		if ge := checkRetrieve(opts); ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}

		docs, err := deps.Gateway.RetrieveDocuments(t.dispatch(r.Context()), opts)
		t.finish(err)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, retrieveResponse{
			Documents: docs,
			HasMore:   gateway.HasMore(len(docs), opts.Limit),
		})
	}
}

func handleProcessingStatus(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "get_processing_status")
		t.validating()

		id := chi.URLParam(r, "id")
		if ge := checkRequired("document id", id); ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}

		st, err := deps.Gateway.GetProcessingStatus(t.dispatch(r.Context()), id)
		t.finish(err)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type folderRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func handleCreateFolder(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "create_folder")
		t.validating()

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req folderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeGatewayError(w, t.rejected(provider.NewValidationError("invalid request body: %v", err)))
			return
		}
		ge := checkRequired("name", req.Name)
		if ge == nil {
			ge = checkFolder(req.Name)
		}
		if ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}

		info, err := deps.Gateway.CreateFolder(t.dispatch(r.Context()), req.Name, req.Description)
		t.finish(err)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, info)
	}
}

func handleGetFolder(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "get_folder")
		t.validating()

		name := chi.URLParam(r, "name")
		if ge := checkFolder(name); ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}

		info, err := deps.Gateway.GetFolderInfo(t.dispatch(r.Context()), name)
		t.finish(err)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		if info == nil {
			httpError(w, http.StatusNotFound, codeNotFound, "folder %q not found", name)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func handleDeleteFolder(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "delete_folder")
		t.validating()

		name := chi.URLParam(r, "name")
		if ge := checkFolder(name); ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}

		err := deps.Gateway.DeleteFolder(t.dispatch(r.Context()), name)
		t.finish(err)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
	}
}

func handleListUploads(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		uploads, err := deps.Uploads.Uploads(limit, r.URL.Query().Get("status"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, codeInternal, "failed to list uploads: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, uploads)
	}
}

// intParam parses an optional non-negative integer; empty means 0.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
