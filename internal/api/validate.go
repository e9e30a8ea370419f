package api

import (
	"strings"

	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/provider"
)

const (
	maxQueryLength  = 8000
	maxFolderLength = 255
	maxRetrieveSize = 100
)

func checkQuery(text string, opts gateway.QueryOptions) *provider.GatewayError {
	if strings.TrimSpace(text) == "" {
		return provider.NewValidationError("query is required")
	}
	if len(text) > maxQueryLength {
		return provider.NewValidationError("query exceeds %d bytes", maxQueryLength)
	}
	if t := opts.Temperature; t != nil && (*t < 0 || *t > 1) {
		return provider.NewValidationError("temperature must be between 0 and 1, got %v", *t)
	}
	if m := opts.MaxTokens; m != nil && *m < 1 {
		return provider.NewValidationError("maxTokens must be at least 1, got %d", *m)
	}
	return checkFolder(opts.Folder)
}

func checkRetrieve(opts gateway.RetrieveOptions) *provider.GatewayError {
	if opts.Limit < 0 || opts.Limit > maxRetrieveSize {
		return provider.NewValidationError("limit must be between 1 and %d, got %d", maxRetrieveSize, opts.Limit)
	}
	if opts.Offset < 0 {
		return provider.NewValidationError("offset must be >= 0, got %d", opts.Offset)
	}
	return checkFolder(opts.Folder)
}

// checkFolder accepts an empty folder (resolved by the gateway later).
func checkFolder(name string) *provider.GatewayError {
	if len(name) > maxFolderLength {
		return provider.NewValidationError("folder name exceeds %d bytes", maxFolderLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return provider.NewValidationError("folder name %q must not contain slashes", name)
	}
	return checkPrintable("folder name", name)
}

// checkPrintable rejects control characters.
func checkPrintable(field, value string) *provider.GatewayError {
	if i := strings.IndexFunc(value, func(r rune) bool { return r < 0x20 || r == 0x7f }); i >= 0 {
		return provider.NewValidationError("%s contains a control character at byte %d", field, i)
	}
	return nil
}

func checkRequired(field, value string) *provider.GatewayError {
	if strings.TrimSpace(value) == "" {
		return provider.NewValidationError("%s is required", field)
	}
	return nil
}
