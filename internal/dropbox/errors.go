// Package dropbox provides an HTTP client for the Dropbox API v2 sharing and
// account endpoints, with retry, bearer-token refresh on 401, and
// classification of the provider's tagged error bodies.
package dropbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error tags the client reacts to.
const (
	TagSharedLinkAlreadyExists = "shared_link_already_exists"
	TagUnknown                 = "unknown"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, dropbox.ErrConflict) to check.
var (
	ErrBadRequest   = errors.New("dropbox: bad request")
	ErrUnauthorized = errors.New("dropbox: unauthorized")
	ErrForbidden    = errors.New("dropbox: forbidden")
	ErrNotFound     = errors.New("dropbox: not found")
	ErrConflict     = errors.New("dropbox: endpoint error")
	ErrThrottled    = errors.New("dropbox: throttled")
	ErrServerError  = errors.New("dropbox: server error")
)

// Client-side failures.
var (
	ErrInvalidRequest       = errors.New("dropbox: invalid link request")
	ErrExistingLinkNotFound = errors.New("dropbox: existing link expected but not found")
)

// APIError is a non-2xx response. Tag is the classified provider error tag,
// Body the raw response for diagnostics.
type APIError struct {
	StatusCode int
	RequestID  string
	Tag        string
	Summary    string
	Body       string
	Err        error // status sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	detail := e.Summary
	if detail == "" {
		detail = e.Body
	}

	if e.RequestID != "" {
		return fmt.Sprintf("dropbox: HTTP %d %s (request-id: %s): %s", e.StatusCode, e.Tag, e.RequestID, detail)
	}

	return fmt.Sprintf("dropbox: HTTP %d %s: %s", e.StatusCode, e.Tag, detail)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// HasTag reports whether err is an *APIError classified as tag.
func HasTag(err error, tag string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Tag == tag
}

// errorEnvelope is the shape of Dropbox endpoint errors:
// {"error_summary": "path/not_found/..", "error": {".tag": "path", ...}}.
type errorEnvelope struct {
	Summary string          `json:"error_summary"`
	Error   json.RawMessage `json:"error"`
}

type taggedUnion struct {
	Tag string `json:".tag"` //nolint:tagliatelle // Dropbox union discriminator
}

// ClassifyTag extracts the error tag from a response body: the nested
// error[".tag"] when present, else the error_summary segment before the
// first "/", else TagUnknown.
func ClassifyTag(body []byte) string {
	tag, _ := classify(body)
	return tag
}

// classify returns the tag and the error summary.
func classify(body []byte) (string, string) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TagUnknown, ""
	}

	if len(env.Error) > 0 {
		var tu taggedUnion
		if err := json.Unmarshal(env.Error, &tu); err == nil && tu.Tag != "" {
			return tu.Tag, env.Summary
		}
	}

	if head, _, _ := strings.Cut(env.Summary, "/"); strings.TrimSpace(head) != "" {
		return strings.TrimSpace(head), env.Summary
	}

	return TagUnknown, env.Summary
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
