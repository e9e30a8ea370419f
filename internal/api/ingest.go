package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/provider"
)

const (
	maxUploadBodySize = 512 << 20 // 512MB across all parts
	maxMemoryParts    = 32 << 20  // larger parts spill to temp files
	maxBatchFiles     = 200
)

func handleUploadFile(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "upload_file")
		t.validating()

		form, ge := parseUploadForm(w, r)
		if ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}
		defer form.RemoveAll()

		headers := form.File["file"]
		if len(headers) != 1 {
			writeGatewayError(w, t.rejected(provider.NewValidationError("exactly one \"file\" part is required, got %d", len(headers))))
			return
		}
		folder := formValue(form, "folder")
		if ge := checkFolder(folder); ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}
		var meta map[string]any
		if raw := formValue(form, "metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				writeGatewayError(w, t.rejected(provider.NewValidationError("metadata must be a JSON object: %v", err)))
				return
			}
		}

		result, err := deps.Gateway.UploadFile(t.dispatch(r.Context()), fileUpload(headers[0], meta), folder)
		t.finish(err)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// handleUploadFiles answers 200 with the per-file results whenever the batch
// ran, including partial and total failure.
func handleUploadFiles(deps ProxyDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := newRequestTracker(deps, r, "upload_files")
		t.validating()

		form, ge := parseUploadForm(w, r)
		if ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}
		defer form.RemoveAll()

		headers := form.File["files"]
		if len(headers) == 0 {
			writeGatewayError(w, t.rejected(provider.NewValidationError("at least one \"files\" part is required")))
			return
		}
		if len(headers) > maxBatchFiles {
			writeGatewayError(w, t.rejected(provider.NewValidationError("at most %d files per request, got %d", maxBatchFiles, len(headers))))
			return
		}
		folder := formValue(form, "folder")
		if ge := checkFolder(folder); ge != nil {
			writeGatewayError(w, t.rejected(ge))
			return
		}
		var meta []map[string]any
		if raw := formValue(form, "metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				writeGatewayError(w, t.rejected(provider.NewValidationError("metadata must be a JSON array of objects: %v", err)))
				return
			}
			if len(meta) != len(headers) {
				writeGatewayError(w, t.rejected(provider.NewValidationError("metadata has %d entries for %d files", len(meta), len(headers))))
				return
			}
		}

		files := make([]gateway.FileUpload, len(headers))
		for i, fh := range headers {
			var m map[string]any
			if meta != nil {
				m = meta[i]
			}
			files[i] = fileUpload(fh, m)
		}

		result := deps.Gateway.UploadFiles(t.dispatch(r.Context()), files, folder)
		t.finishBatch(result)
		writeJSON(w, http.StatusOK, result)
	}
}

func parseUploadForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, *provider.GatewayError) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, provider.NewValidationError("expected a multipart/form-data body: %v", err)
	}
	form, err := mr.ReadForm(maxMemoryParts)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, provider.NewValidationError("upload exceeds %d bytes", tooLarge.Limit)
		}
		return nil, provider.NewValidationError("reading multipart body: %v", err)
	}
	return form, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// fileUpload defers reading the part until the gateway submits its chunk.
func fileUpload(fh *multipart.FileHeader, meta map[string]any) gateway.FileUpload {
	ct := fh.Header.Get("Content-Type")
	if ct == "application/octet-stream" {
		ct = ""
	}
	return gateway.FileUpload{
		Name:     fh.Filename,
		Open:     func() (io.ReadCloser, error) { return fh.Open() },
		MIMEType: ct,
		Metadata: meta,
	}
}
