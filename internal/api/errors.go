package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/clinicdocs/docgate/internal/provider"
)

// Machine-readable error codes returned by the proxy.
const (
	codeNotConfigured       = "NOT_CONFIGURED"
	codeConfigurationError  = "CONFIGURATION_ERROR"
	codeValidationFailed    = "VALIDATION_FAILED"
	codeTimeout             = "TIMEOUT"
	codeProviderUnreachable = "PROVIDER_UNREACHABLE"
	codeProviderError       = "PROVIDER_ERROR"
	codeNotFound            = "NOT_FOUND"
	codeInternal            = "INTERNAL_ERROR"
)

type errorDetail struct {
	Code     string        `json:"code"`
	Kind     provider.Kind `json:"kind,omitempty"`
	Status   int           `json:"status,omitempty"`
	Message  string        `json:"message"`
	Attempts int           `json:"attempts,omitempty"`
}

// statusFor maps a gateway error onto the proxy's response status and code.
func statusFor(ge *provider.GatewayError) (int, string) {
	switch ge.Kind {
	case provider.KindTimeout:
		return http.StatusGatewayTimeout, codeTimeout
	case provider.KindConfiguration:
		if errors.Is(ge, provider.ErrNotConfigured) {
			return http.StatusServiceUnavailable, codeNotConfigured
		}
		return http.StatusBadRequest, codeConfigurationError
	case provider.KindValidation:
		return http.StatusBadRequest, codeValidationFailed
	case provider.KindNetwork:
		return http.StatusBadGateway, codeProviderUnreachable
	case provider.KindHTTP:
		// A 2xx that reported failure in its body is still a provider error.
		if ge.Status < 400 || ge.Status > 599 {
			return http.StatusBadGateway, codeProviderError
		}
		return ge.Status, codeProviderError
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeGatewayError writes err using the status mapping of statusFor.
func writeGatewayError(w http.ResponseWriter, err error) {
	ge := provider.AsGatewayError(err)
	status, code := statusFor(ge)
	writeJSON(w, status, map[string]errorDetail{
		"error": {
			Code:     code,
			Kind:     ge.Kind,
			Status:   ge.Status,
			Message:  ge.Message,
			Attempts: ge.Attempts,
		},
	})
}

func httpError(w http.ResponseWriter, status int, code string, format string, args ...any) {
	writeJSON(w, status, map[string]errorDetail{
		"error": {Code: code, Message: fmt.Sprintf(format, args...)},
	})
}
