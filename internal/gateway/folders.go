package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/retry"
)

// CreateFolder creates a provider folder. It is not retried, so a duplicate
// create surfaces the provider's conflict response unchanged.
func (s *Service) CreateFolder(ctx context.Context, name, description string) (*provider.FolderInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, provider.NewValidationError("folder name is required")
	}
	payload := map[string]string{"name": name}
	if description != "" {
		payload["description"] = description
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, provider.NewConfigurationError(fmt.Sprintf("encoding folder: %v", err), err)
	}

	info := provider.FolderInfo{Name: name, Description: description}
	err = s.sendJSON(ctx, provider.Request{
		Op:          "folder_create",
		Method:      http.MethodPost,
		Path:        "/folders",
		Body:        body,
		ContentType: "application/json",
	}, &info)
	if err != nil {
		ge := provider.AsGatewayError(err)
		ge.Attempts = 1
		return nil, ge
	}
	return &info, nil
}

// GetFolderInfo looks a folder up by name. A folder the provider does not
// know returns nil with no error.
func (s *Service) GetFolderInfo(ctx context.Context, name string) (*provider.FolderInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, provider.NewValidationError("folder name is required")
	}

	info, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*provider.FolderInfo, error) {
		var info provider.FolderInfo
		if err := s.sendJSON(ctx, provider.Request{
			Op:     "folder_get",
			Method: http.MethodGet,
			Path:   "/folders/" + url.PathEscape(name),
		}, &info); err != nil {
			return nil, err
		}
		if info.Name == "" {
			info.Name = name
		}
		return &info, nil
	})
	if err != nil {
		if ge := provider.AsGatewayError(err); ge.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

// DeleteFolder removes a folder.
func (s *Service) DeleteFolder(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return provider.NewValidationError("folder name is required")
	}
	return retry.Run(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.transport.Send(ctx, provider.Request{
			Op:     "folder_delete",
			Method: http.MethodDelete,
			Path:   "/folders/" + url.PathEscape(name),
		})
		return err
	})
}

// GetProcessingStatus polls a document's processing state once. Callers own
// the polling cadence.
func (s *Service) GetProcessingStatus(ctx context.Context, documentID string) (*provider.ProcessingStatus, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, provider.NewValidationError("document id is required")
	}

	st, err := retry.Do(ctx, s.policy, func(ctx context.Context) (*provider.ProcessingStatus, error) {
		var st provider.ProcessingStatus
		if err := s.sendJSON(ctx, provider.Request{
			Op:     "status",
			Method: http.MethodGet,
			Path:   "/documents/" + url.PathEscape(documentID) + "/status",
		}, &st); err != nil {
			return nil, err
		}
		return &st, nil
	})
	if err != nil {
		return nil, err
	}
	if st.DocumentID == "" {
		st.DocumentID = documentID
	}
	if !st.Status.Valid() {
		s.logger.Warn("unknown processing status", "document_id", documentID, "status", st.Status)
	}
	return st, nil
}

// Ping probes provider health with the short health timeout. It is never
// retried.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.transport.Send(ctx, provider.Request{
		Op:      "health",
		Method:  http.MethodGet,
		Path:    "/health",
		Timeout: provider.HealthTimeout,
	})
	return err
}
