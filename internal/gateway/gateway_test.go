package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/retry"
)

// fastPolicy retries without waiting and records the requested delays.
func fastPolicy(delays *[]time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if delays != nil {
				*delays = append(*delays, d)
			}
			return ctx.Err()
		},
	}
}

func newTestService(t *testing.T, h http.HandlerFunc, opts ...Option) *Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := provider.NewClient(provider.Config{BaseURL: srv.URL, APIKey: "test-key"})
	return New(client, fastPolicy(nil), opts...)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []UploadRecord
}

func (m *memRecorder) RecordUpload(_ context.Context, rec UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// batchNames parses a /ingest/files request and returns the file names in
// part order.
func batchNames(t *testing.T, r *http.Request) (names []string, folder string) {
	t.Helper()
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		t.Errorf("content type: %v", err)
		return nil, ""
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Errorf("next part: %v", err)
			return nil, ""
		}
		switch p.FormName() {
		case "files":
			names = append(names, p.FileName())
		case "folder":
			b, _ := io.ReadAll(p)
			folder = string(b)
		}
	}
	return names, folder
}

func files(n int) []FileUpload {
	out := make([]FileUpload, n)
	for i := range out {
		out[i] = FileUpload{Name: fmt.Sprintf("doc-%02d.txt", i), Content: []byte("content")}
	}
	return out
}

func TestUploadFiles_ChunksInOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		chunks [][]string
	)
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		names, _ := batchNames(t, r)
		mu.Lock()
		chunks = append(chunks, names)
		mu.Unlock()
		fmt.Fprintf(w, `{"success":true,"uploadedCount":%d,"failedCount":0}`, len(names))
	})

	res := svc.UploadFiles(context.Background(), files(25), "")

	if len(chunks) != 3 {
		t.Fatalf("requests = %d, want 3", len(chunks))
	}
	wantSizes := []int{10, 10, 5}
	next := 0
	for i, c := range chunks {
		if len(c) != wantSizes[i] {
			t.Errorf("chunk %d has %d files, want %d", i, len(c), wantSizes[i])
		}
		for _, name := range c {
			if want := fmt.Sprintf("doc-%02d.txt", next); name != want {
				t.Errorf("chunk %d: got %s, want %s", i, name, want)
			}
			next++
		}
	}
	if !res.Success || res.UploadedCount != 25 || res.FailedCount != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Results) != 25 {
		t.Fatalf("results = %d, want 25", len(res.Results))
	}
	for i, r := range res.Results {
		if r.Name != fmt.Sprintf("doc-%02d.txt", i) {
			t.Errorf("results[%d].Name = %s", i, r.Name)
		}
	}
}

func TestUploadFiles_FailedChunkDoesNotStopOthers(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		names, _ := batchNames(t, r)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"bad batch"}`)
			return
		}
		fmt.Fprintf(w, `{"success":true,"uploadedCount":%d}`, len(names))
	}, WithBatchSize(2))

	res := svc.UploadFiles(context.Background(), files(4), "")

	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.UploadedCount != 2 || res.FailedCount != 2 {
		t.Errorf("counts = %d/%d, want 2/2", res.UploadedCount, res.FailedCount)
	}
	if res.UploadedCount+res.FailedCount != 4 {
		t.Error("counts do not add up to the submitted files")
	}
	if res.Results[0].Success || !strings.Contains(res.Results[0].Error, "bad batch") {
		t.Errorf("results[0] = %+v", res.Results[0])
	}
	if !res.Results[3].Success {
		t.Errorf("results[3] = %+v", res.Results[3])
	}
}

func TestUploadFiles_Empty(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	res := svc.UploadFiles(context.Background(), nil, "")
	if !res.Success || res.UploadedCount != 0 || res.FailedCount != 0 {
		t.Errorf("result = %+v", res)
	}
	if calls.Load() != 0 {
		t.Errorf("provider called %d times, want 0", calls.Load())
	}
}

func TestUploadFiles_UnreadableFileExcluded(t *testing.T) {
	var sent []string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		sent, _ = batchNames(t, r)
		fmt.Fprint(w, `{"success":true,"uploadedCount":1}`)
	})

	in := []FileUpload{
		{Name: "missing.pdf", Open: func() (io.ReadCloser, error) { return nil, errors.New("no such file") }},
		{Name: "ok.txt", Content: []byte("hi")},
	}
	res := svc.UploadFiles(context.Background(), in, "")

	if len(sent) != 1 || sent[0] != "ok.txt" {
		t.Errorf("sent = %v, want [ok.txt]", sent)
	}
	if res.Results[0].Success || !strings.Contains(res.Results[0].Error, "no such file") {
		t.Errorf("results[0] = %+v", res.Results[0])
	}
	if !res.Results[1].Success {
		t.Errorf("results[1] = %+v", res.Results[1])
	}
	if res.UploadedCount != 1 || res.FailedCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", res.UploadedCount, res.FailedCount)
	}
}

func TestUploadFiles_RecordsEveryFile(t *testing.T) {
	rec := &memRecorder{}
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"results":[{"success":true,"documentId":"d1"},{"success":false,"error":"too large"}]}`)
	}, WithRecorder(rec), WithDefaultFolder("intake"))

	svc.UploadFiles(context.Background(), files(2), "")

	if len(rec.recs) != 2 {
		t.Fatalf("records = %d, want 2", len(rec.recs))
	}
	if !rec.recs[0].Success || rec.recs[0].DocumentID != "d1" || rec.recs[0].Folder != "intake" {
		t.Errorf("recs[0] = %+v", rec.recs[0])
	}
	if rec.recs[1].Success || rec.recs[1].Error != "too large" {
		t.Errorf("recs[1] = %+v", rec.recs[1])
	}
}

func TestChunkResults(t *testing.T) {
	prepared := []PreparedFile{{Name: "a"}, {Name: "b"}}

	tests := []struct {
		name string
		resp provider.IngestResponse
		want []bool
	}{
		{"aligned results", provider.IngestResponse{Results: []provider.FileResult{{Success: true}, {Success: false}}}, []bool{true, false}},
		{"success flag", provider.IngestResponse{Success: true}, []bool{true, true}},
		{"uploaded count", provider.IngestResponse{UploadedCount: 2}, []bool{true, true}},
		{"partial counts", provider.IngestResponse{Success: true, UploadedCount: 1, FailedCount: 1}, []bool{false, false}},
		{"misaligned results", provider.IngestResponse{UploadedCount: 1, Results: []provider.FileResult{{Success: true}}}, []bool{false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkResults(tt.resp, prepared)
			for i, want := range tt.want {
				if got[i].Success != want {
					t.Errorf("file %d Success = %v, want %v", i, got[i].Success, want)
				}
				if !got[i].Success && got[i].Error == "" {
					t.Errorf("file %d failed without an error message", i)
				}
			}
		})
	}
}

func TestUploadFile_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"success":true,"documentId":"doc-1"}`)
	}))
	defer srv.Close()

	var delays []time.Duration
	svc := New(provider.NewClient(provider.Config{BaseURL: srv.URL, APIKey: "k"}), fastPolicy(&delays))

	res, err := svc.UploadFile(context.Background(), FileUpload{Name: "a.txt", Content: []byte("x")}, "")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if !res.Success || res.DocumentID != "doc-1" {
		t.Errorf("result = %+v", res)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
}

func TestUploadFile_UnauthorizedNotRetried(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"invalid key"}`)
	})

	res, err := svc.UploadFile(context.Background(), FileUpload{Name: "a.txt", Content: []byte("x")}, "")
	var ge *provider.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want *GatewayError", err)
	}
	if ge.Kind != provider.KindHTTP || ge.Status != http.StatusUnauthorized || ge.Attempts != 1 {
		t.Errorf("error = %+v", ge)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
	if res.Success || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestUploadFile_SendsFolderAndMetadata(t *testing.T) {
	var folder, meta, filename string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse: %v", err)
		}
		folder = r.FormValue("folder")
		meta = r.FormValue("metadata")
		if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
			filename = fh[0].Filename
		}
		fmt.Fprint(w, `{"success":true,"documentId":"d"}`)
	}, WithDefaultFolder("fallback"))

	_, err := svc.UploadFile(context.Background(), FileUpload{
		Name:     "note.md",
		Content:  []byte("# hi"),
		Metadata: map[string]any{"patient": "p-1"},
	}, "cardiology")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if folder != "cardiology" {
		t.Errorf("folder = %q, want cardiology", folder)
	}
	if meta != `{"patient":"p-1"}` {
		t.Errorf("metadata = %q", meta)
	}
	if filename != "note.md" {
		t.Errorf("filename = %q", filename)
	}
}

func TestUploadFile_ReportedFailure(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"unsupported type"}`)
	})

	res, err := svc.UploadFile(context.Background(), FileUpload{Name: "a.bin", Content: []byte{0}}, "")
	if !provider.IsKind(err, provider.KindHTTP) {
		t.Fatalf("error = %v, want http kind", err)
	}
	if res.Error != "unsupported type" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestAgentQuery_OnlyQueryWhenNoOptions(t *testing.T) {
	var body map[string]any
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprint(w, `{"response":"42","sources":[{"documentId":"d1"}]}`)
	})

	resp, err := svc.AgentQuery(context.Background(), "what is it?", QueryOptions{})
	if err != nil {
		t.Fatalf("AgentQuery: %v", err)
	}
	if len(body) != 1 || body["query"] != "what is it?" {
		t.Errorf("payload = %v, want only query", body)
	}
	if resp.Response != "42" || len(resp.Sources) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestAgentQuery_NotRetried(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := svc.AgentQuery(context.Background(), "q", QueryOptions{})
	if !provider.IsKind(err, provider.KindHTTP) {
		t.Fatalf("error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
}

func TestAgentQuery_Validation(t *testing.T) {
	var calls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	hot, zero := 1.5, 0
	tests := []struct {
		name string
		text string
		opts QueryOptions
	}{
		{"empty", "  ", QueryOptions{}},
		{"temperature", "q", QueryOptions{Temperature: &hot}},
		{"max tokens", "q", QueryOptions{MaxTokens: &zero}},
	}
	for _, tt := range tests {
		if _, err := svc.AgentQuery(context.Background(), tt.text, tt.opts); !provider.IsKind(err, provider.KindValidation) {
			t.Errorf("%s: error = %v, want validation kind", tt.name, err)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("provider called %d times, want 0", calls.Load())
	}
}

func TestRetrieveDocuments(t *testing.T) {
	var gotQuery string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"documents":[{"id":"a"},{"id":"b"}]}`)
	})

	opts := RetrieveOptions{Query: "x-ray", Limit: 2}
	first, err := svc.RetrieveDocuments(context.Background(), opts)
	if err != nil {
		t.Fatalf("RetrieveDocuments: %v", err)
	}
	second, err := svc.RetrieveDocuments(context.Background(), opts)
	if err != nil {
		t.Fatalf("RetrieveDocuments: %v", err)
	}
	if len(first) != 2 || len(second) != 2 || first[0].ID != second[0].ID {
		t.Errorf("first = %v, second = %v", first, second)
	}
	if gotQuery != "limit=2&query=x-ray" {
		t.Errorf("query = %q", gotQuery)
	}
	if !HasMore(len(first), opts.Limit) {
		t.Error("HasMore = false for a full page")
	}
}

func TestRetrieveDocuments_EmptyAndInvalid(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	docs, err := svc.RetrieveDocuments(context.Background(), RetrieveOptions{})
	if err != nil || docs == nil || len(docs) != 0 {
		t.Errorf("docs = %v, err = %v, want empty slice", docs, err)
	}
	if _, err := svc.RetrieveDocuments(context.Background(), RetrieveOptions{Offset: -1}); !provider.IsKind(err, provider.KindValidation) {
		t.Errorf("negative offset: error = %v", err)
	}
}

func TestRetrieveDocuments_UndecodableBody(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})

	_, err := svc.RetrieveDocuments(context.Background(), RetrieveOptions{})
	var ge *provider.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want *GatewayError", err)
	}
	if string(ge.Payload) != "not json" {
		t.Errorf("Payload = %q, want raw body", ge.Payload)
	}
}

func TestFolders(t *testing.T) {
	var createCalls atomic.Int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/folders":
			createCalls.Add(1)
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"error":"exists"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/folders/radiology":
			fmt.Fprint(w, `{"name":"radiology","documentCount":7}`)
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	if _, err := svc.CreateFolder(ctx, "radiology", ""); !provider.IsKind(err, provider.KindHTTP) {
		t.Errorf("CreateFolder error = %v, want http kind", err)
	}
	if createCalls.Load() != 1 {
		t.Errorf("create attempts = %d, want 1", createCalls.Load())
	}

	info, err := svc.GetFolderInfo(ctx, "radiology")
	if err != nil || info == nil || info.DocumentCount != 7 {
		t.Errorf("GetFolderInfo = %+v, %v", info, err)
	}
	info, err = svc.GetFolderInfo(ctx, "missing")
	if err != nil || info != nil {
		t.Errorf("GetFolderInfo(missing) = %+v, %v, want nil, nil", info, err)
	}
	if err := svc.DeleteFolder(ctx, "radiology"); err != nil {
		t.Errorf("DeleteFolder: %v", err)
	}
}

func TestGetProcessingStatus(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/documents/doc-9/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"status":"processing","progress":0.4}`)
	})

	st, err := svc.GetProcessingStatus(context.Background(), "doc-9")
	if err != nil {
		t.Fatalf("GetProcessingStatus: %v", err)
	}
	if st.DocumentID != "doc-9" || st.Status != provider.StatusProcessing || st.Status.Terminal() {
		t.Errorf("status = %+v", st)
	}
}

func TestNotConfigured(t *testing.T) {
	svc := New(provider.NewClient(provider.Config{BaseURL: "http://127.0.0.1:1"}), fastPolicy(nil))
	if svc.Configured() {
		t.Fatal("Configured = true without an API key")
	}
	_, err := svc.UploadFile(context.Background(), FileUpload{Name: "a", Content: []byte("x")}, "")
	if !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestResolveFolder(t *testing.T) {
	tests := []struct {
		explicit, call, config, want string
	}{
		{"a", "b", "c", "a"},
		{"", "b", "c", "b"},
		{" ", "", "c", "c"},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		if got := ResolveFolder(tt.explicit, tt.call, tt.config); got != tt.want {
			t.Errorf("ResolveFolder(%q, %q, %q) = %q, want %q", tt.explicit, tt.call, tt.config, got, tt.want)
		}
	}
}

func TestChunk(t *testing.T) {
	got := Chunk(25, 10)
	want := [][2]int{{0, 10}, {10, 20}, {20, 25}}
	if len(got) != len(want) {
		t.Fatalf("Chunk = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Chunk[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if len(Chunk(0, 10)) != 0 {
		t.Error("Chunk(0) not empty")
	}
}

func TestUploadFiles_NotConfiguredOpensNothing(t *testing.T) {
	svc := New(provider.NewClient(provider.Config{BaseURL: "http://127.0.0.1:1"}), fastPolicy(nil))

	var opens atomic.Int32
	batch := make([]FileUpload, 3)
	for i := range batch {
		batch[i] = FileUpload{
			Name: fmt.Sprintf("scan-%d.pdf", i),
			Open: func() (io.ReadCloser, error) {
				opens.Add(1)
				return io.NopCloser(strings.NewReader("x")), nil
			},
		}
	}

	res := svc.UploadFiles(context.Background(), batch, "")
	if res.Success || res.FailedCount != 3 || res.UploadedCount != 0 || len(res.Results) != 3 {
		t.Fatalf("result = %+v", res)
	}
	for i, r := range res.Results {
		if r.Name != batch[i].Name || !strings.Contains(r.Error, "API key") {
			t.Errorf("results[%d] = %+v", i, r)
		}
	}
	if opens.Load() != 0 {
		t.Errorf("opened %d files, want 0", opens.Load())
	}
	if err := svc.CheckConfigured(); !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("CheckConfigured = %v, want ErrNotConfigured", err)
	}
}

func TestUploadFile_ControlCharactersStayInsideFilename(t *testing.T) {
	var (
		parts    int
		filename string
		injected string
		folder   string
	)
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse: %v", err)
			return
		}
		fhs := r.MultipartForm.File["file"]
		parts = len(fhs)
		if parts == 1 {
			filename = fhs[0].Filename
			injected = fhs[0].Header.Get("X-Injected")
		}
		folder = r.FormValue("folder")
		fmt.Fprint(w, `{"success":true,"documentId":"d"}`)
	})

	_, err := svc.UploadFile(context.Background(), FileUpload{
		Name:     "a\r\nX-Injected: 1\r\n\r\nevil.pdf",
		MIMEType: "application/pdf\r\nX-Injected: 2",
		Content:  []byte("%PDF"),
	}, "cardiology")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if parts != 1 {
		t.Fatalf("file parts = %d, want 1", parts)
	}
	if filename != "aX-Injected: 1evil.pdf" {
		t.Errorf("filename = %q", filename)
	}
	if injected != "" {
		t.Errorf("X-Injected header = %q, want none", injected)
	}
	if folder != "cardiology" {
		t.Errorf("folder = %q, want cardiology", folder)
	}
}

func TestEncodeBatch_ControlCharactersInNames(t *testing.T) {
	body, err := EncodeBatch([]PreparedFile{
		{Name: "one\r\nContent-Disposition: form-data; name=\"folder\"\r\n\r\nother", Content: []byte("1")},
		{Name: "two.txt", Content: []byte("2")},
	}, "intake")
	if err != nil {
		t.Fatal(err)
	}
	_, params, err := mime.ParseMediaType(body.ContentType)
	if err != nil {
		t.Fatal(err)
	}
	form, err := multipart.NewReader(strings.NewReader(string(body.Body)), params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer form.RemoveAll()
	if got := len(form.File["files"]); got != 2 {
		t.Errorf("files parts = %d, want 2", got)
	}
	if got := form.Value["folder"]; len(got) != 1 || got[0] != "intake" {
		t.Errorf("folder values = %q, want [intake]", got)
	}
}

func TestUploadFile_ProviderSuccessFlag(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantOK  bool
		wantErr string
	}{
		{"rejected with id", `{"success":false,"documentId":"d1","error":"rejected"}`, false, "rejected"},
		{"rejected without message", `{"success":false,"documentId":"d1"}`, false, "provider reported failure"},
		{"id without flag", `{"documentId":"d2"}`, true, ""},
		{"flag without id", `{"success":true}`, false, "provider did not return a document id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			res, err := svc.UploadFile(context.Background(), FileUpload{Name: "a.txt", Content: []byte("a")}, "")
			if res.Success != tt.wantOK {
				t.Errorf("Success = %v, want %v (err %v)", res.Success, tt.wantOK, err)
			}
			if tt.wantOK {
				if err != nil {
					t.Errorf("error = %v", err)
				}
				return
			}
			if !provider.IsKind(err, provider.KindHTTP) {
				t.Errorf("error = %v, want http kind", err)
			}
			if res.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantErr)
			}
		})
	}
}
