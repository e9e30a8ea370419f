package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clinicdocs/docgate/internal/provider"
)

func TestObserveCall(t *testing.T) {
	m := New()
	m.ObserveCall("agent", 200, "", 10*time.Millisecond)
	m.ObserveCall("agent", 503, provider.KindHTTP, 5*time.Millisecond)
	m.ObserveCall("agent", 0, provider.KindNetwork, time.Millisecond)

	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("agent", "ok", "200")); got != 1 {
		t.Errorf("ok calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("agent", "http", "503")); got != 1 {
		t.Errorf("http calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("agent", "network", "")); got != 1 {
		t.Errorf("network calls = %v, want 1", got)
	}
}

func TestOnRetryAndChunks(t *testing.T) {
	m := New()
	m.OnRetry(2, time.Second, &provider.GatewayError{Kind: provider.KindTimeout})
	m.OnRetry(3, 2*time.Second, &provider.GatewayError{Kind: provider.KindTimeout})
	m.ObserveChunk(10, 8, 2)
	m.ObserveChunk(5, 5, 0)

	if got := testutil.ToFloat64(m.retries.WithLabelValues("timeout")); got != 2 {
		t.Errorf("timeout retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.batchChunks); got != 2 {
		t.Errorf("chunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.batchFiles.WithLabelValues("uploaded")); got != 13 {
		t.Errorf("uploaded = %v, want 13", got)
	}
	if got := testutil.ToFloat64(m.batchFiles.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed = %v, want 2", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/documents/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents/"+id+"/status", nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/v1/documents/{id}/status", "GET", "202")); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "docgate_http_requests_total") {
		t.Error("metrics output missing docgate_http_requests_total")
	}
}
