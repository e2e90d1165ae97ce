// Package provider translates normalized messages into calls against the
// Meta messaging APIs and folds every outcome, including transport errors,
// into a Result. Adapters hold no state between attempts.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

const (
	CodeRateLimited         = "rate_limited"
	CodeAuthFailed          = "auth_failed"
	CodePermissionDenied    = "permission_denied"
	CodeInvalidRecipient    = "invalid_recipient"
	CodeInvalidRequest      = "invalid_request"
	CodeProviderUnavailable = "provider_unavailable"
	CodeTimeout             = "timeout"
	CodeCanceled            = "canceled"
	CodeNetworkError        = "network_error"
	CodeInvalidResponse     = "invalid_response"
	CodeInternal            = "internal_error"
)

// IsRetryable reports whether a failure with this code may succeed when
// attempted again without changing the message or the credentials.
func IsRetryable(code string) bool {
	switch code {
	case CodeRateLimited, CodeTimeout, CodeCanceled, CodeNetworkError, CodeProviderUnavailable:
		return true
	}
	return false
}

const DefaultAPIVersion = "v18.0"

type Result struct {
	Success           bool
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
}

func Delivered(providerMessageID string) Result {
	return Result{Success: true, ProviderMessageID: providerMessageID}
}

func Failure(code, format string, args ...any) Result {
	return Result{ErrorCode: code, ErrorMessage: fmt.Sprintf(format, args...)}
}

type ConnectionStatus struct {
	Success bool
	Detail  string
}

type Adapter interface {
	Platform() model.Platform
	Supports(t model.MessageType) bool
	// NormalizeRecipient returns the address in the form the platform
	// expects, or an error when it is not well formed.
	NormalizeRecipient(recipient string) (string, error)
	TestConnection(ctx context.Context, creds model.Credentials) ConnectionStatus
	// Deliver never returns an error; every failure is reported in Result.
	Deliver(ctx context.Context, m model.Message, creds model.Credentials) Result
}

type Registry struct {
	adapters map[model.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// NewDefaultRegistry wires the WhatsApp, Facebook and Instagram adapters
// over one shared HTTP client.
func NewDefaultRegistry(timeout time.Duration) *Registry {
	g := newGraphClient(&http.Client{Timeout: timeout})
	return NewRegistry(
		NewWhatsAppAdapter(g),
		NewFacebookAdapter(g),
		NewInstagramAdapter(g),
	)
}

func (r *Registry) Get(p model.Platform) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

var validate = validator.New(validator.WithRequiredStructEnabled())
