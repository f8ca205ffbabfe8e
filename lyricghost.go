// Package lyricghost defines the request/response types shared by the
// lyricghost daemon, its HTTP client and the suggestion session.
// Messages are JSON-encoded over HTTP.
package lyricghost

import (
	"errors"
	"fmt"
)

// Request is sent by an editing surface to ask for a continuation.
type Request struct {
	// PartialLyric is the current draft text to continue.
	PartialLyric string `json:"partialLyric"`
	// Refresh bypasses cached completions for this exact draft.
	Refresh bool `json:"refresh,omitempty"`
	// MaxTokens overrides the configured generation budget when > 0.
	MaxTokens int `json:"-"`
	// Temperature overrides the configured sampling temperature when non-nil.
	Temperature *float64 `json:"-"`
}

// Response is the success body of POST /api/complete.
type Response struct {
	// Completion is the cleaned continuation to append after the draft.
	Completion string `json:"completion"`
}

// ErrorResponse is the failure body of POST /api/complete.
type ErrorResponse struct {
	// Error is a human-readable description.
	Error string `json:"error"`
	// Code is a machine-readable identifier (e.g. "invalid_input", "oracle_unavailable").
	Code string `json:"code,omitempty"`
}

// BackendRequest is the body of the backend-style POST /complete endpoint.
type BackendRequest struct {
	Text        string   `json:"text"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// BackendResponse is the success body of POST /complete.
type BackendResponse struct {
	Completion    string `json:"completion"`
	RawCompletion string `json:"raw_completion"`
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ServiceInfo is the body of GET /.
type ServiceInfo struct {
	Service   string `json:"service"`
	Status    string `json:"status"`
	Version   string `json:"version"`
	OracleURL string `json:"oracle_url"`
	Model     string `json:"model"`
	Corpus    int    `json:"corpus_chunks"`
}

// Completion is the verbose result of one adapter call.
type Completion struct {
	// Text is the cleaned continuation.
	Text string
	// Raw is the oracle's unprocessed answer.
	Raw string
	// Prompt is the message sent to the oracle.
	Prompt string
	// References are corpus excerpts included in the prompt.
	References []string
	// Cached is true when the result came from the completion cache.
	Cached bool
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidInput      = "invalid_input"
	CodeOracleUnavailable = "oracle_unavailable"
	CodeOracleEmpty       = "oracle_empty"
	CodeNotConfigured     = "not_configured"
)

var (
	// ErrInvalidInput is returned when the partial lyric is missing or not a string.
	ErrInvalidInput = errors.New("invalid input")
	// ErrOracleUnavailable covers network errors, timeouts and non-2xx oracle replies.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOracleEmpty is returned when the oracle answered but nothing usable was left after cleanup.
	ErrOracleEmpty = errors.New("oracle returned no usable text")
	// ErrNotConfigured is returned when no generation endpoint is configured.
	ErrNotConfigured = errors.New("generation endpoint not configured")
)

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrOracleEmpty):
		return CodeOracleEmpty
	case errors.Is(err, ErrNotConfigured):
		return CodeNotConfigured
	default:
		return CodeOracleUnavailable
	}
}

// ErrorFromCode rebuilds a sentinel-wrapped error from a wire code and message.
func ErrorFromCode(code, message string) error {
	var sentinel error
	switch code {
	case CodeInvalidInput:
		sentinel = ErrInvalidInput
	case CodeOracleEmpty:
		sentinel = ErrOracleEmpty
	case CodeNotConfigured:
		sentinel = ErrNotConfigured
	default:
		sentinel = ErrOracleUnavailable
	}
	if message == "" || message == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}
