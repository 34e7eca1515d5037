package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when a provider has no credentials.
var ErrNotConfigured = errors.New("provider not configured")

// FailoverReason says why a provider call failed. The engine uses it to
// decide whether a Gemini model goes on cooldown.
type FailoverReason string

const (
	FailoverBilling     FailoverReason = "billing"
	FailoverRateLimit   FailoverReason = "rate_limit" // 429 or RESOURCE_EXHAUSTED
	FailoverAuth        FailoverReason = "auth"
	FailoverTimeout     FailoverReason = "timeout"
	FailoverServerError FailoverReason = "server_error"

	// FailoverInvalidRequest is a 400: the same input will fail again.
	FailoverInvalidRequest FailoverReason = "invalid_request"

	// FailoverModelUnavailable covers unknown models and HF cold starts.
	FailoverModelUnavailable FailoverReason = "model_unavailable"

	FailoverContentFilter     FailoverReason = "content_filter"
	FailoverMalformedResponse FailoverReason = "malformed_response"
	FailoverEmptyResponse     FailoverReason = "empty_response"
	FailoverUnknown           FailoverReason = "unknown"
)

// IsRetryable returns true if the failover reason suggests retrying may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError, FailoverModelUnavailable:
		return true
	default:
		return false
	}
}

// ShouldFailover returns true if the error warrants trying a different model.
// Every provider failure moves the engine on; this only reports whether the
// same model is worth retrying later.
func (r FailoverReason) ShouldFailover() bool {
	return r != FailoverInvalidRequest
}

// ProviderError is a classified failure from Gemini or Hugging Face.
type ProviderError struct {
	Reason   FailoverReason
	Provider string
	Model    string

	// Status is the HTTP status, zero when the call never got a response.
	Status int

	// Code is the upstream status string, e.g. RESOURCE_EXHAUSTED.
	Code string

	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("[" + string(e.Reason) + "]")
	if e.Provider != "" {
		b.WriteString(" " + e.Provider)
	}
	if e.Model != "" {
		b.WriteString(" model=" + e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(" code=" + e.Code)
	}
	switch {
	case e.Message != "":
		b.WriteString(" " + e.Message)
	case e.Cause != nil:
		b.WriteString(" " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError classified from cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailoverUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus adds HTTP status to the error and reclassifies if needed.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode adds a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// errorKeywords is checked in order; the first reason with a matching
// substring wins.
var errorKeywords = []struct {
	reason   FailoverReason
	keywords []string
}{
	{FailoverTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{FailoverRateLimit, []string{"rate limit", "rate_limit", "too many requests", "resource_exhausted", "resource exhausted", "quota", "429"}},
	{FailoverAuth, []string{"unauthorized", "unauthenticated", "invalid api key", "api key not valid", "permission denied", "401", "403"}},
	{FailoverBilling, []string{"billing", "payment", "402"}},
	{FailoverContentFilter, []string{"content_filter", "safety", "blocked"}},
	{FailoverModelUnavailable, []string{"model not found", "not_found", "is currently loading", "unavailable"}},
	{FailoverServerError, []string{"internal server", "server error", "500", "502", "504"}},
}

// ClassifyError returns the reason carried by a ProviderError in err's
// chain, or guesses one from the message text.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range errorKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.reason
			}
		}
	}
	return FailoverUnknown
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound || status == http.StatusServiceUnavailable:
		return FailoverModelUnavailable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailoverTimeout
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "resource_exhausted", "rate_limit_exceeded", "insufficient_quota":
		return FailoverRateLimit
	case "unauthenticated", "permission_denied", "invalid_api_key":
		return FailoverAuth
	case "not_found", "model_not_found", "unavailable":
		return FailoverModelUnavailable
	case "deadline_exceeded":
		return FailoverTimeout
	case "internal":
		return FailoverServerError
	case "invalid_argument", "failed_precondition":
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// IsProviderError checks if an error is a ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	return ClassifyError(err).IsRetryable()
}

// ShouldFailover checks if an error warrants trying a different model.
func ShouldFailover(err error) bool {
	return ClassifyError(err).ShouldFailover()
}

// IsQuotaExhausted reports whether err means the model's quota is spent.
func IsQuotaExhausted(err error) bool {
	return ClassifyError(err) == FailoverRateLimit
}
