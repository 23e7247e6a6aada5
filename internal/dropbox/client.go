package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultBaseURL is the Dropbox API v2 RPC root.
const DefaultBaseURL = "https://api.dropboxapi.com/2"

// DefaultUserAgent identifies dbxlink to the Dropbox API.
const DefaultUserAgent = "dbxlink/0.1"

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

const (
	headerRequestID = "X-Dropbox-Request-Id"
	headerPathRoot  = "Dropbox-API-Path-Root"
)

// TokenSource provides OAuth2 bearer tokens. auth.Manager implements it.
type TokenSource interface {
	Acquire(ctx context.Context) (string, error)
}

// Invalidator is implemented by token sources that can drop a cached token
// the server has rejected.
type Invalidator interface {
	Invalidate()
}

// Client is an HTTP client for the Dropbox API.
// It handles request construction, authentication, retry with
// exponential backoff, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string

	mu       sync.RWMutex
	pathRoot string // JSON-encoded Dropbox-API-Path-Root value, empty for none

	// nowFunc is injectable for link expiry validation tests.
	nowFunc func() time.Time

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Dropbox API client. An empty baseURL selects
// DefaultBaseURL and an empty userAgent DefaultUserAgent.
func NewClient(
	baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
		nowFunc:    time.Now,
		sleepFunc:  timeSleep,
	}
}

// Do POSTs payload as JSON to an RPC endpoint. A nil payload is sent as the
// literal null, which argument-less endpoints require. The caller closes the
// response body on success.
func (c *Client) Do(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dropbox: encoding %s request: %w", path, err)
	}

	url := c.baseURL + path

	var (
		attempt  int
		reauthed bool
	)

	for {
		resp, err := c.doOnce(ctx, url, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dropbox: request canceled: %w", ctx.Err())
			}

			if errors.Is(err, ErrTokenUnavailable) {
				return nil, err
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("dropbox: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("dropbox: POST %s failed after %d retries: %w", path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := resp.Header.Get(headerRequestID)

		// One retry with a fresh token when the server rejects the cached one.
		if resp.StatusCode == http.StatusUnauthorized && !reauthed {
			if inv, ok := c.token.(Invalidator); ok {
				c.logger.Info("access token rejected, retrying with a fresh token",
					slog.String("path", path),
					slog.String("request_id", reqID),
				)

				inv.Invalidate()
				reauthed = true

				continue
			}
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("dropbox: request canceled: %w", err)
			}

			attempt++

			continue
		}

		tag, summary := classify(errBody)
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Tag:        tag,
			Summary:    summary,
			Body:       string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

// ErrTokenUnavailable wraps a TokenSource failure. Such errors are never
// retried by the client.
var ErrTokenUnavailable = errors.New("dropbox: obtaining token")

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	if root := c.PathRoot(); root != "" {
		req.Header.Set(headerPathRoot, root)
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
