package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/retry"
)

// singleIngestResponse is the POST /ingest/file body. A missing "success"
// field is not a failure as long as a document id came back.
type singleIngestResponse struct {
	Success    *bool  `json:"success"`
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
}

// UploadFile sends one file to the provider. On failure the returned result
// carries the error message and the error is a *provider.GatewayError.
func (s *Service) UploadFile(ctx context.Context, file FileUpload, folder string) (UploadResult, error) {
	target := s.resolveFolder(folder)
	result := UploadResult{Name: file.Name}

	prepared, err := prepare(file)
	if err != nil {
		ge := provider.NewConfigurationError(err.Error(), err)
		result.Error = ge.Message
		s.record(ctx, PreparedFile{Name: file.Name, MIMEType: file.contentType()}, target, result)
		return result, ge
	}

	body, err := EncodeSingle(prepared, target)
	if err != nil {
		ge := provider.NewConfigurationError(fmt.Sprintf("encoding %s: %v", file.Name, err), err)
		result.Error = ge.Message
		s.record(ctx, prepared, target, result)
		return result, ge
	}

	resp, err := retry.Do(ctx, s.policy, func(ctx context.Context) (singleIngestResponse, error) {
		var out singleIngestResponse
		err := s.sendJSON(ctx, provider.Request{
			Op:          "ingest_file",
			Method:      http.MethodPost,
			Path:        "/ingest/file",
			Body:        body.Body,
			ContentType: body.ContentType,
			Timeout:     provider.UploadTimeout,
		}, &out)
		return out, err
	})
	if err != nil {
		result.Error = err.Error()
		s.record(ctx, prepared, target, result)
		return result, err
	}

	if rejected := resp.Success != nil && !*resp.Success; rejected || resp.DocumentID == "" {
		msg := resp.Error
		switch {
		case msg != "":
		case rejected:
			msg = "provider reported failure"
		default:
			msg = "provider did not return a document id"
		}
		result.Error = msg
		s.record(ctx, prepared, target, result)
		return result, &provider.GatewayError{Kind: provider.KindHTTP, Status: http.StatusOK, Message: msg}
	}

	result.Success = true
	result.DocumentID = resp.DocumentID
	s.record(ctx, prepared, target, result)
	s.logger.Info("file uploaded", "name", file.Name, "document_id", resp.DocumentID, "folder", target)
	return result, nil
}

// UploadFiles sends files in chunks of BatchSize, one chunk at a time. A
// failed chunk marks its files failed and the remaining chunks still run, so
// partial success is a normal outcome rather than an error.
func (s *Service) UploadFiles(ctx context.Context, files []FileUpload, folder string) BatchUploadResult {
	out := BatchUploadResult{Results: make([]UploadResult, len(files))}
	if len(files) == 0 {
		out.Success = true
		return out
	}
	target := s.resolveFolder(folder)

	if ge := s.transport.Config().Check(); ge != nil {
		for i, f := range files {
			out.Results[i] = UploadResult{Name: f.Name, Error: ge.Message}
		}
		out.FailedCount = len(files)
		s.logger.Warn("batch upload skipped", "files", len(files), "error", ge.Message)
		return out
	}

	for _, span := range Chunk(len(files), s.batchSize) {
		s.uploadChunk(ctx, files, span[0], span[1], target, out.Results)
	}

	for _, r := range out.Results {
		if r.Success {
			out.UploadedCount++
		} else {
			out.FailedCount++
		}
	}
	out.Success = out.FailedCount == 0
	s.logger.Info("batch upload finished",
		"files", len(files), "uploaded", out.UploadedCount, "failed", out.FailedCount, "folder", target)
	return out
}

// uploadChunk fills results[start:end].
func (s *Service) uploadChunk(ctx context.Context, files []FileUpload, start, end int, folder string, results []UploadResult) {
	var (
		prepared []PreparedFile
		index    []int
	)
	for i := start; i < end; i++ {
		results[i] = UploadResult{Name: files[i].Name}
		p, err := prepare(files[i])
		if err != nil {
			results[i].Error = err.Error()
			s.record(ctx, PreparedFile{Name: files[i].Name, MIMEType: files[i].contentType()}, folder, results[i])
			continue
		}
		prepared = append(prepared, p)
		index = append(index, i)
	}
	if len(prepared) == 0 {
		s.observeChunk(end-start, 0, end-start)
		return
	}

	body, err := EncodeBatch(prepared, folder)
	var resp provider.IngestResponse
	if err == nil {
		resp, err = retry.Do(ctx, s.policy, func(ctx context.Context) (provider.IngestResponse, error) {
			var out provider.IngestResponse
			err := s.sendJSON(ctx, provider.Request{
				Op:          "ingest_files",
				Method:      http.MethodPost,
				Path:        "/ingest/files",
				Body:        body.Body,
				ContentType: body.ContentType,
				Timeout:     provider.UploadTimeout,
			}, &out)
			return out, err
		})
	}

	var chunk []UploadResult
	if err != nil {
		s.logger.Warn("batch chunk failed", "start", start, "end", end, "error", err)
		chunk = make([]UploadResult, len(prepared))
		for j, p := range prepared {
			chunk[j] = UploadResult{Name: p.Name, Error: err.Error()}
		}
	} else {
		chunk = chunkResults(resp, prepared)
	}

	uploaded := 0
	for j, r := range chunk {
		results[index[j]] = r
		if r.Success {
			uploaded++
		}
		s.record(ctx, prepared[j], folder, r)
	}
	s.observeChunk(end-start, uploaded, end-start-uploaded)
}

// chunkResults maps a batch response onto the submitted files. A per-file
// list is trusted only when it lines up one-to-one with the submission.
// Without it, counts alone cannot say which files failed, so any reported
// failure fails the whole chunk.
func chunkResults(resp provider.IngestResponse, files []PreparedFile) []UploadResult {
	out := make([]UploadResult, len(files))
	for i, f := range files {
		out[i].Name = f.Name
	}

	if len(resp.Results) == len(files) {
		for i, r := range resp.Results {
			out[i].Success = r.Success
			out[i].DocumentID = r.DocumentID
			out[i].Error = r.Error
			if !r.Success && r.Error == "" {
				out[i].Error = "provider reported failure"
			}
		}
		return out
	}

	allOK := resp.FailedCount == 0 && (resp.Success || resp.UploadedCount == len(files))
	msg := resp.Error
	if msg == "" && !allOK {
		msg = fmt.Sprintf("provider reported %d of %d files failed without per-file results", resp.FailedCount, len(files))
	}
	for i := range out {
		if allOK {
			out[i].Success = true
		} else {
			out[i].Error = msg
		}
	}
	return out
}

func prepare(f FileUpload) (PreparedFile, error) {
	data, err := f.read()
	if err != nil {
		return PreparedFile{}, err
	}
	return PreparedFile{
		Name:     f.Name,
		MIMEType: f.contentType(),
		Content:  data,
		Metadata: f.Metadata,
	}, nil
}

func (s *Service) record(ctx context.Context, f PreparedFile, folder string, r UploadResult) {
	if s.recorder == nil {
		return
	}
	rec := UploadRecord{
		Name:       f.Name,
		Folder:     folder,
		MIMEType:   f.MIMEType,
		Size:       len(f.Content),
		DocumentID: r.DocumentID,
		Success:    r.Success,
		Error:      r.Error,
	}
	// The outcome is recorded even when the request context is already done.
	if err := s.recorder.RecordUpload(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("recording upload failed", "name", f.Name, "error", err)
	}
}

func (s *Service) observeChunk(files, uploaded, failed int) {
	if s.batchObserver != nil {
		s.batchObserver.ObserveChunk(files, uploaded, failed)
	}
}
