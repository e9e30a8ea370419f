package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/clinicdocs/docgate/internal/provider"
	"github.com/clinicdocs/docgate/internal/retry"
)

// AgentQuery asks the provider's agent a question. It is sent exactly once:
// conversational calls are not idempotent on the provider side.
func (s *Service) AgentQuery(ctx context.Context, text string, opts QueryOptions) (*provider.AgentResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, provider.NewValidationError("query is required")
	}
	if t := opts.Temperature; t != nil && (*t < 0 || *t > 1) {
		return nil, provider.NewValidationError("temperature must be between 0 and 1, got %v", *t)
	}
	if m := opts.MaxTokens; m != nil && *m <= 0 {
		return nil, provider.NewValidationError("maxTokens must be > 0, got %d", *m)
	}

	body, err := json.Marshal(BuildAgentPayload(text, opts))
	if err != nil {
		return nil, provider.NewConfigurationError(fmt.Sprintf("encoding agent query: %v", err), err)
	}

	var resp provider.AgentResponse
	err = s.sendJSON(ctx, provider.Request{
		Op:          "agent",
		Method:      http.MethodPost,
		Path:        "/agent",
		Body:        body,
		ContentType: "application/json",
	}, &resp)
	if err != nil {
		ge := provider.AsGatewayError(err)
		ge.Attempts = 1
		return nil, ge
	}
	return &resp, nil
}

// RetrieveDocuments fetches one page of documents. An empty page is an empty
// slice, not an error.
func (s *Service) RetrieveDocuments(ctx context.Context, opts RetrieveOptions) ([]provider.Document, error) {
	q, err := BuildRetrieveQuery(opts)
	if err != nil {
		return nil, provider.NewValidationError("%v", err)
	}

	return retry.Do(ctx, s.policy, func(ctx context.Context) ([]provider.Document, error) {
		resp, err := s.transport.Send(ctx, provider.Request{
			Op:     "retrieve",
			Method: http.MethodGet,
			Path:   "/retrieve/docs",
			Query:  q,
		})
		if err != nil {
			return nil, err
		}
		docs, err := decodeDocuments(resp.Body)
		if err != nil {
			return nil, &provider.GatewayError{
				Kind:    provider.KindNetwork,
				Status:  resp.StatusCode,
				Payload: resp.Body,
				Message: fmt.Sprintf("decoding retrieve response: %v", err),
				Err:     err,
			}
		}
		return docs, nil
	})
}

// decodeDocuments accepts either a bare array or an object wrapping the
// array under "documents", "results" or "data".
func decodeDocuments(body []byte) ([]provider.Document, error) {
	trimmed := bytes.TrimSpace(body)
	docs := []provider.Document{}
	if len(trimmed) == 0 {
		return docs, nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}

	var wrapped struct {
		Documents []provider.Document `json:"documents"`
		Results   []provider.Document `json:"results"`
		Data      []provider.Document `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	for _, list := range [][]provider.Document{wrapped.Documents, wrapped.Results, wrapped.Data} {
		if len(list) > 0 {
			return list, nil
		}
	}
	return docs, nil
}

// sendJSON sends req once and decodes a 2xx body into out.
func (s *Service) sendJSON(ctx context.Context, req provider.Request, out any) error {
	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &provider.GatewayError{
			Kind:    provider.KindNetwork,
			Status:  resp.StatusCode,
			Payload: resp.Body,
			Message: fmt.Sprintf("decoding %s response: %v", req.Op, err),
			Err:     err,
		}
	}
	return nil
}
