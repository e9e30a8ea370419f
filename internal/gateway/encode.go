package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// ResolveFolder picks the target folder: an explicit argument beats the
// per-call default, which beats the configured default. An empty result
// means the provider's own default folder.
func ResolveFolder(explicit, callDefault, configDefault string) string {
	for _, f := range []string{explicit, callDefault, configDefault} {
		if f = strings.TrimSpace(f); f != "" {
			return f
		}
	}
	return ""
}

// EncodedBody is a ready-to-send multipart payload.
type EncodedBody struct {
	ContentType string
	Body        []byte
}

// PreparedFile is a FileUpload whose content has been read.
type PreparedFile struct {
	Name     string
	MIMEType string
	Content  []byte
	Metadata map[string]any
}

// EncodeSingle builds the multipart body for POST /ingest/file.
func EncodeSingle(f PreparedFile, folder string) (EncodedBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := writeFilePart(w, "file", f); err != nil {
		return EncodedBody{}, err
	}
	if len(f.Metadata) > 0 {
		meta, err := json.Marshal(f.Metadata)
		if err != nil {
			return EncodedBody{}, fmt.Errorf("encoding metadata for %s: %w", f.Name, err)
		}
		if err := w.WriteField("metadata", string(meta)); err != nil {
			return EncodedBody{}, err
		}
	}
	if folder != "" {
		if err := w.WriteField("folder", folder); err != nil {
			return EncodedBody{}, err
		}
	}
	if err := w.Close(); err != nil {
		return EncodedBody{}, err
	}
	return EncodedBody{ContentType: w.FormDataContentType(), Body: buf.Bytes()}, nil
}

// EncodeBatch builds the multipart body for POST /ingest/files: one "files"
// part per file and a single "metadata" JSON array aligned by index.
func EncodeBatch(files []PreparedFile, folder string) (EncodedBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	meta := make([]map[string]any, len(files))
	for i, f := range files {
		if err := writeFilePart(w, "files", f); err != nil {
			return EncodedBody{}, err
		}
		meta[i] = f.Metadata
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return EncodedBody{}, fmt.Errorf("encoding batch metadata: %w", err)
	}
	if err := w.WriteField("metadata", string(metaJSON)); err != nil {
		return EncodedBody{}, err
	}
	if folder != "" {
		if err := w.WriteField("folder", folder); err != nil {
			return EncodedBody{}, err
		}
	}
	if err := w.Close(); err != nil {
		return EncodedBody{}, err
	}
	return EncodedBody{ContentType: w.FormDataContentType(), Body: buf.Bytes()}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// headerValue drops control characters so a file name or MIME type cannot
// end the part header early.
func headerValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func writeFilePart(w *multipart.Writer, field string, f PreparedFile) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(headerValue(field)), quoteEscaper.Replace(headerValue(f.Name))))
	h.Set("Content-Type", headerValue(f.MIMEType))
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating part for %s: %w", f.Name, err)
	}
	if _, err := part.Write(f.Content); err != nil {
		return fmt.Errorf("writing part for %s: %w", f.Name, err)
	}
	return nil
}

// Chunk splits n items into consecutive [start, end) ranges of at most size.
func Chunk(n, size int) [][2]int {
	if size <= 0 {
		size = 1
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
	}
	return out
}

// BuildAgentPayload returns the JSON object for POST /agent containing only
// the options that are set.
func BuildAgentPayload(text string, opts QueryOptions) map[string]any {
	payload := map[string]any{"query": text}
	if opts.Folder != "" {
		payload["folder"] = opts.Folder
	}
	if opts.ChatID != "" {
		payload["chatId"] = opts.ChatID
	}
	if opts.UserID != "" {
		payload["userId"] = opts.UserID
	}
	if opts.Temperature != nil {
		payload["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		payload["maxTokens"] = *opts.MaxTokens
	}
	return payload
}

// BuildRetrieveQuery validates opts and returns the query string for
// GET /retrieve/docs. Filters are sent as one JSON-encoded parameter.
func BuildRetrieveQuery(opts RetrieveOptions) (url.Values, error) {
	if opts.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0, got %d", opts.Offset)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must be > 0, got %d", opts.Limit)
	}

	q := url.Values{}
	if opts.Query != "" {
		q.Set("query", opts.Query)
	}
	if opts.Folder != "" {
		q.Set("folder", opts.Folder)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Filters) > 0 {
		b, err := json.Marshal(opts.Filters)
		if err != nil {
			return nil, fmt.Errorf("encoding filters: %w", err)
		}
		q.Set("filters", string(b))
	}
	return q, nil
}

// HasMore is the pagination heuristic: a full page suggests another exists.
func HasMore(returned, limit int) bool {
	return limit > 0 && returned >= limit
}
