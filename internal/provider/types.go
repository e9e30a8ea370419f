package provider

import (
	"encoding/json"
	"time"
)

// Config holds the provider connection settings. It is fixed once the client
// is constructed.
type Config struct {
	BaseURL       string
	APIKey        string
	DefaultFolder string
}

// Configured reports whether both the API key and the base URL are set.
func (c Config) Configured() bool {
	return c.Check() == nil
}

// Check returns the configuration error a call would fail with, or nil.
func (c Config) Check() *GatewayError {
	if c.APIKey == "" {
		return NewConfigurationError("provider API key is not set", ErrNotConfigured)
	}
	if c.BaseURL == "" {
		return NewConfigurationError("provider base URL is not set", ErrNotConfigured)
	}
	return nil
}

// Source is one citation attached to an agent response.
type Source struct {
	DocumentID string  `json:"documentId"`
	Content    string  `json:"content,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// AgentResponse is the provider's answer to an agent query.
type AgentResponse struct {
	Response string         `json:"response"`
	Sources  []Source       `json:"sources,omitempty"`
	ChatID   string         `json:"chatId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Document is a read-only projection of a document held by the provider.
type Document struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Folder    string         `json:"folder,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Content   string         `json:"content,omitempty"`
	CreatedAt *time.Time     `json:"createdAt,omitempty"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// FolderInfo describes a provider folder.
type FolderInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	DocumentCount int    `json:"documentCount"`
}

// Status is a document processing state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further state change will occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ProcessingStatus is a single poll of a document's processing state.
type ProcessingStatus struct {
	DocumentID string  `json:"documentId"`
	Status     Status  `json:"status"`
	Progress   float64 `json:"progress,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// FileResult is the provider's per-file entry in an ingest response.
type FileResult struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IngestResponse is returned by both ingest endpoints. Single-file responses
// carry DocumentID; batch responses carry the counts and, sometimes, Results.
type IngestResponse struct {
	Success       bool         `json:"success"`
	DocumentID    string       `json:"documentId,omitempty"`
	UploadedCount int          `json:"uploadedCount"`
	FailedCount   int          `json:"failedCount"`
	Results       []FileResult `json:"results,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// errorEnvelope covers the error layouts the provider has been seen to use.
type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

func extractMessage(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	var env errorEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	if len(env.Error) > 0 {
		var s string
		if json.Unmarshal(env.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if env.Message != "" {
		return env.Message
	}
	return env.Detail
}
