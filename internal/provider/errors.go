package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a GatewayError by where the failure happened.
type Kind string

const (
	// KindNetwork means the request was sent but no response came back.
	KindNetwork Kind = "network"
	// KindHTTP means the provider answered with a non-2xx status.
	KindHTTP Kind = "http"
	// KindTimeout means a deadline expired or the call was cancelled.
	KindTimeout Kind = "timeout"
	// KindConfiguration means the request could not be built or sent at all.
	KindConfiguration Kind = "configuration"
	// KindValidation means caller input was rejected before dispatch.
	KindValidation Kind = "validation"
)

// ErrNotConfigured is wrapped by configuration errors caused by a missing API
// key or base URL.
var ErrNotConfigured = errors.New("provider not configured")

// GatewayError is the single error type returned by every gateway module.
type GatewayError struct {
	Kind    Kind   `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Payload []byte `json:"-"`
	Message string `json:"message"`
	// Attempts is the number of attempts made when the error left the retry engine.
	Attempts int `json:"attempts,omitempty"`

	Err error `json:"-"`
}

func (e *GatewayError) Error() string {
	var s string
	if e.Kind == KindHTTP {
		s = fmt.Sprintf("provider %s error (HTTP %d): %s", e.Kind, e.Status, e.Message)
	} else {
		s = fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
	}
	if e.Attempts > 1 {
		s += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return s
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry engine may attempt the call again.
// Network failures, timeouts, 5xx and 429 are transient; everything else is a
// caller error.
func (e *GatewayError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTP:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	default:
		return false
	}
}

// IsNotFound reports whether the provider answered 404.
func (e *GatewayError) IsNotFound() bool {
	return e.Kind == KindHTTP && e.Status == http.StatusNotFound
}

func newHTTPError(status int, payload []byte) *GatewayError {
	return &GatewayError{
		Kind:    KindHTTP,
		Status:  status,
		Payload: payload,
		Message: providerMessage(status, payload),
	}
}

// NewConfigurationError returns a configuration-kind error.
func NewConfigurationError(msg string, err error) *GatewayError {
	return &GatewayError{Kind: KindConfiguration, Message: msg, Err: err}
}

// NewValidationError returns a validation-kind error for rejected caller input.
func NewValidationError(format string, args ...any) *GatewayError {
	return &GatewayError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// AsGatewayError extracts a *GatewayError from err. Errors of any other type
// are normalized so callers never see a bare library error.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &GatewayError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	return &GatewayError{Kind: KindNetwork, Message: err.Error(), Err: err}
}

// IsKind reports whether err is a GatewayError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == kind
}

// providerMessage pulls a human-readable message out of an error payload.
// The provider is not consistent about its error shape, so a few common
// layouts are tried before falling back to the raw body.
func providerMessage(status int, payload []byte) string {
	if msg := extractMessage(payload); msg != "" {
		return msg
	}
	if len(payload) > 0 {
		const maxLen = 512
		if len(payload) > maxLen {
			return string(payload[:maxLen]) + "..."
		}
		return string(payload)
	}
	return http.StatusText(status)
}
