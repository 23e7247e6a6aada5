// Package auth owns the Dropbox OAuth2 token lifecycle: the authorization
// code + PKCE browser flow, silent refresh from the stored refresh credential,
// and in-memory caching of the short-lived access token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/dbxlink/internal/credstore"
)

// Dropbox OAuth2 endpoints.
const (
	DefaultAuthURL  = "https://www.dropbox.com/oauth2/authorize"
	DefaultTokenURL = "https://api.dropboxapi.com/oauth2/token"
)

// Lifecycle defaults.
const (
	// DefaultCallbackPort is the fixed loopback port registered as the
	// redirect URI (http://localhost:53682/callback) in the Dropbox app console.
	DefaultCallbackPort    = 53682
	DefaultCallbackTimeout = 5 * time.Minute
	DefaultExpiryMargin    = 5 * time.Minute
	MinExpiryMargin        = 1 * time.Minute

	// fallbackTokenLifetime applies when the token endpoint omits expires_in.
	fallbackTokenLifetime = 4 * time.Hour
)

// singleflight keys.
const (
	acquireKey     = "acquire"
	silentKey      = "silent"
	interactiveKey = "interactive"
)

// Sentinel errors. Interactive-flow failures wrap one of these.
var (
	ErrNoClientID          = errors.New("auth: no Dropbox app key configured")
	ErrStateMismatch       = errors.New("auth: OAuth2 state mismatch (possible interception)")
	ErrAuthorizationDenied = errors.New("auth: authorization denied")
	ErrCallbackTimeout     = errors.New("auth: timed out waiting for browser callback")
	ErrTokenExchange       = errors.New("auth: token exchange failed")
	ErrLoginRequired       = errors.New("auth: login required")
)

// Options configures a Manager. Zero values select the defaults above.
type Options struct {
	ClientID        string
	AuthURL         string
	TokenURL        string
	CallbackPort    int
	CallbackTimeout time.Duration
	ExpiryMargin    time.Duration

	// OpenURL launches the browser. Defaults to OpenBrowser.
	OpenURL func(string) error

	// HTTPClient is used for token endpoint calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Manager hands out bearer credentials. It is safe for concurrent use:
// concurrent callers that find no valid token share one refresh or one
// browser prompt.
type Manager struct {
	cfg             *oauth2.Config
	store           credstore.Store
	listenAddr      string
	callbackTimeout time.Duration
	margin          time.Duration
	openURL         func(string) error
	httpClient      *http.Client
	logger          *slog.Logger

	// nowFunc is injectable for expiry tests.
	nowFunc func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	accessToken string
	expiry      time.Time // provider expiry minus margin
}

// NewManager builds a Manager persisting its refresh credential in store.
func NewManager(store credstore.Store, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}

	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}

	if opts.CallbackPort == 0 {
		opts.CallbackPort = DefaultCallbackPort
	}

	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = DefaultCallbackTimeout
	}

	if opts.ExpiryMargin < MinExpiryMargin {
		opts.ExpiryMargin = DefaultExpiryMargin
	}

	if opts.OpenURL == nil {
		opts.OpenURL = OpenBrowser
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Manager{
		cfg: &oauth2.Config{
			ClientID: opts.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:           store,
		listenAddr:      fmt.Sprintf("127.0.0.1:%d", opts.CallbackPort),
		callbackTimeout: opts.CallbackTimeout,
		margin:          opts.ExpiryMargin,
		openURL:         opts.OpenURL,
		httpClient:      opts.HTTPClient,
		logger:          opts.Logger,
		nowFunc:         time.Now,
	}
}

// Acquire returns a valid access token. A cached token is returned without
// I/O; otherwise the stored refresh credential is tried, and if that is
// missing or rejected the interactive browser flow runs. Refresh failures are
// logged, never returned; interactive failures are returned.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	return m.join(ctx, acquireKey, m.refreshOrLogin)
}

// AcquireSilent is Acquire without the browser fallback. It fails with
// ErrLoginRequired when neither the cache nor the stored refresh credential
// yields a token.
func (m *Manager) AcquireSilent(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	return m.join(ctx, silentKey, m.refreshOnly)
}

// Silent returns a token source backed by m that never opens the browser.
func (m *Manager) Silent() SilentSource {
	return SilentSource{m: m}
}

// SilentSource hands out tokens through AcquireSilent.
type SilentSource struct {
	m *Manager
}

func (s SilentSource) Acquire(ctx context.Context) (string, error) {
	return s.m.AcquireSilent(ctx)
}

func (s SilentSource) Invalidate() {
	s.m.Invalidate()
}

// ForceReauthenticate discards every credential and runs the browser flow.
func (m *Manager) ForceReauthenticate(ctx context.Context) error {
	if !m.store.Delete() {
		m.logger.Warn("could not delete stored refresh credential before re-authentication")
	}

	m.Invalidate()

	_, err := m.join(ctx, interactiveKey, m.login)

	return err
}

// Invalidate drops the cached access token so the next Acquire refreshes.
// The API client calls this after a 401.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accessToken = ""
	m.expiry = time.Time{}
}

// Logout removes the stored refresh credential and the cached token.
func (m *Manager) Logout() error {
	m.Invalidate()

	if !m.store.Delete() {
		return errors.New("auth: could not remove stored credential")
	}

	m.logger.Info("logged out, refresh credential removed")

	return nil
}

// HasRefreshCredential reports whether a refresh credential is stored.
func (m *Manager) HasRefreshCredential() bool {
	_, ok := m.store.Retrieve()
	return ok
}

// cached returns the access token if it has not passed its adjusted expiry.
func (m *Manager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && m.nowFunc().Before(m.expiry) {
		return m.accessToken, true
	}

	return "", false
}

// join runs fn under key, sharing the result with concurrent callers. The
// flight runs with the leader's context; a follower whose own context ends
// stops waiting without affecting the flight. A follower whose flight ended
// because the leader's context did starts a new flight under its own.
func (m *Manager) join(
	ctx context.Context, key string, fn func(context.Context) (string, error),
) (string, error) {
	for {
		led := false

		ch := m.group.DoChan(key, func() (any, error) {
			led = true
			return fn(ctx)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				if !led && ctx.Err() == nil && isContextError(res.Err) {
					m.logger.Debug("shared token request canceled by another caller, retrying",
						slog.String("key", key),
					)

					continue
				}

				return "", res.Err
			}

			tok, _ := res.Val.(string)

			return tok, nil
		case <-ctx.Done():
			return "", fmt.Errorf("auth: waiting for token: %w", ctx.Err())
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) refreshOrLogin(ctx context.Context) (string, error) {
	// A flight that finished between the cache check and DoChan may have
	// already produced a token.
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	if refreshToken, ok := m.store.Retrieve(); ok {
		tok, err := m.refresh(ctx, refreshToken)
		if err == nil {
			return tok, nil
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("auth: token refresh canceled: %w", ctx.Err())
		}

		m.logger.Warn("token refresh failed, falling back to browser login",
			slog.String("error", err.Error()),
		)
	} else {
		m.logger.Info("no stored refresh credential, starting browser login")
	}

	return m.join(ctx, interactiveKey, m.login)
}

func (m *Manager) refreshOnly(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	refreshToken, ok := m.store.Retrieve()
	if !ok {
		return "", ErrLoginRequired
	}

	tok, err := m.refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginRequired, err)
	}

	return tok, nil
}

// refresh exchanges the refresh credential for a new access token.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (string, error) {
	if m.cfg.ClientID == "" {
		return "", ErrNoClientID
	}

	m.logger.Debug("refreshing access token")

	// An expired token carrying only the refresh credential makes the
	// oauth2 token source go straight to the refresh grant.
	src := m.cfg.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("auth: refreshing token: %w", err)
	}

	m.accept(tok, refreshToken)

	return tok.AccessToken, nil
}

// accept caches tok and persists a new or rotated refresh credential.
func (m *Manager) accept(tok *oauth2.Token, previousRefresh string) {
	now := m.nowFunc()

	var providerExpiry time.Time

	switch {
	case tok.ExpiresIn > 0:
		providerExpiry = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	case !tok.Expiry.IsZero():
		providerExpiry = tok.Expiry
	default:
		providerExpiry = now.Add(fallbackTokenLifetime)
	}

	// A short-lived token keeps at least half its lifetime.
	margin := max(min(m.margin, providerExpiry.Sub(now)/2), 0)

	m.mu.Lock()
	m.accessToken = tok.AccessToken
	m.expiry = providerExpiry.Add(-margin)
	m.mu.Unlock()

	m.logger.Info("access token cached",
		slog.Time("provider_expiry", providerExpiry),
		slog.Duration("margin", margin),
	)

	if tok.RefreshToken == "" || tok.RefreshToken == previousRefresh {
		return
	}

	if !m.store.Store(tok.RefreshToken) {
		m.logger.Warn("failed to persist refresh credential; next run will require login")
		return
	}

	m.logger.Info("persisted refresh credential")
}

// clientContext routes oauth2 token endpoint calls through m.httpClient.
func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
