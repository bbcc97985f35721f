package transcribe

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/retry"
)

// ValidationError reports a problem with the caller's input, detected
// before any network call. Its message is safe to show verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ConfigError reports a missing credential or similar configuration gap.
// It short-circuits before any network call and is never retried.
type ConfigError struct {
	Provider string
	Missing  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is not configured: %s is not set", e.Provider, e.Missing)
}

// APIError reports a provider-side rejection or failure. Status carries the
// HTTP status code (0 for malformed-success responses); Code is a coarse
// classification for logs.
type APIError struct {
	Provider string
	Status   int
	Code     string // malformed_input, too_large, rate_limited, provider_error, bad_response
	Message  string
	Filename string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s API error (status %d, %s): %s", e.Provider, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (%s): %s", e.Provider, e.Code, e.Message)
}

// Retryable reports whether the failure is worth retrying: rate limits and
// server-side errors, but never 4xx rejections.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// TimeoutError reports that a local wall-clock bound was exceeded. Unlike
// APIError it means "outcome unknown", not "known failure": the provider
// may still finish the abandoned work.
type TimeoutError struct {
	Provider string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s transcription timed out after %s", e.Provider, e.After)
}

// classifyAPIError builds an APIError from an HTTP status, keeping the raw
// provider message and the filename for diagnostics.
func classifyAPIError(provider string, status int, message, filename string) *APIError {
	code := "provider_error"
	switch {
	case status == 400:
		code = "malformed_input"
	case status == 413:
		code = "too_large"
	case status == 429:
		code = "rate_limited"
	}
	return &APIError{
		Provider: provider,
		Status:   status,
		Code:     code,
		Message:  message,
		Filename: filename,
	}
}

// UserMessage maps the error taxonomy onto the three user-facing messages:
// actionable input problems, generic provider outages, and timeouts.
func UserMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return "this is taking too long, try a shorter file"
	}
	if retry.IsTimeout(err) {
		return "this is taking too long, try a shorter file"
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return "transcription is not configured on this server"
	}
	return "the transcription service is temporarily unavailable, please retry"
}

// apiCallPolicy is the retry preset for provider calls: always retry 429
// and 5xx, defer to the generic network classifier otherwise. Each attempt
// is logged at warn level.
func apiCallPolicy(provider string, log zerolog.Logger) retry.Policy {
	p := retry.APICallPolicy()
	p.ShouldRetry = func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Retryable()
		}
		return retry.RetryableNetwork(err)
	}
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().
			Str("provider", provider).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying provider call")
	}
	return p
}
