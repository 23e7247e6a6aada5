package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the loopback listener.
const callbackPath = "/callback"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

const successPage = "<html><body><h1>dbxlink is authorized</h1>" +
	"<p>You can close this window and return to the terminal.</p></body></html>"

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// login runs the authorization code + PKCE flow:
//  1. Binds the loopback listener on the fixed callback port
//  2. Opens the browser at the authorization URL (challenge, state, offline access)
//  3. Waits for exactly one callback, bounded by callbackTimeout and ctx
//  4. Validates state and extracts the code
//  5. Exchanges code + verifier for tokens, caches and persists them
func (m *Manager) login(ctx context.Context) (string, error) {
	if m.cfg.ClientID == "" {
		return "", ErrNoClientID
	}

	m.logger.Info("starting browser login (authorization code + PKCE)")

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("auth: generating state token: %w", err)
	}

	resultCh := make(chan callbackResult, 1)

	srv, port, err := m.startCallbackServer(ctx, state, resultCh)
	if err != nil {
		return "", err
	}

	defer shutdownCallbackServer(srv, m.logger)

	// Per-flow copy: the redirect URI carries the bound port.
	cfg := *m.cfg
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", port, callbackPath)

	authURL := cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
	)

	m.launchBrowser(authURL)

	code, err := m.waitForCallback(ctx, resultCh)
	if err != nil {
		return "", err
	}

	m.logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(m.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	m.accept(tok, "")

	m.logger.Info("browser login successful")

	return tok.AccessToken, nil
}

// startCallbackServer binds the loopback listeners and serves the callback
// route. Returns the server and the bound port.
func (m *Manager) startCallbackServer(
	ctx context.Context, state string, resultCh chan<- callbackResult,
) (*http.Server, int, error) {
	listeners, port, err := m.listenLoopback(ctx)
	if err != nil {
		return nil, 0, err
	}

	m.logger.Info("callback server listening",
		slog.Int("port", port),
		slog.Int("listeners", len(listeners)),
	)

	var served atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		// Only the first callback counts; reloads and stray requests are refused.
		if !served.CompareAndSwap(false, true) {
			http.Error(w, "Login already handled", http.StatusGone)
			return
		}

		select {
		case resultCh <- handleOAuthCallback(w, r.URL.Query(), state):
		default:
		}
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	for _, ln := range listeners {
		go func() {
			if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				select {
				case resultCh <- callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)}:
				default:
				}
			}
		}()
	}

	return srv, port, nil
}

// listenLoopback binds listenAddr and, when that is the IPv4 loopback, the
// IPv6 loopback on the same port. The redirect URI names "localhost", which
// browsers may resolve to either address. The IPv6 bind is best effort.
func (m *Manager) listenLoopback(ctx context.Context) ([]net.Listener, int, error) {
	lc := net.ListenConfig{}

	v4, err := lc.Listen(ctx, "tcp", m.listenAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("auth: binding callback listener on %s: %w", m.listenAddr, err)
	}

	tcpAddr, ok := v4.Addr().(*net.TCPAddr)
	if !ok {
		v4.Close()
		return nil, 0, errors.New("auth: listener address is not TCP")
	}

	listeners := []net.Listener{v4}

	if !tcpAddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		return listeners, tcpAddr.Port, nil
	}

	v6Addr := net.JoinHostPort("::1", strconv.Itoa(tcpAddr.Port))

	v6, err := lc.Listen(ctx, "tcp", v6Addr)
	if err != nil {
		m.logger.Debug("IPv6 loopback unavailable, callback served on IPv4 only",
			slog.String("addr", v6Addr),
			slog.String("error", err.Error()),
		)

		return listeners, tcpAddr.Port, nil
	}

	return append(listeners, v6), tcpAddr.Port, nil
}

// handleOAuthCallback validates the state, extracts the code, and writes the
// response page. State is checked first.
func handleOAuthCallback(w http.ResponseWriter, q url.Values, state string) callbackResult {
	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return callbackResult{err: ErrStateMismatch}
	}

	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)

		return callbackResult{err: fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, errParam, desc)}
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return callbackResult{err: fmt.Errorf("%w: callback carried no authorization code", ErrAuthorizationDenied)}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)

	return callbackResult{code: code}
}

// waitForCallback blocks until the callback fires, the timeout elapses, or
// ctx is canceled.
func (m *Manager) waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	timer := time.NewTimer(m.callbackTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrCallbackTimeout, m.callbackTimeout)
	case <-ctx.Done():
		return "", fmt.Errorf("auth: browser login canceled: %w", ctx.Err())
	}
}

// shutdownCallbackServer stops the listener and releases the port.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser opens the auth URL, printing it to stderr if that fails so
// the user can copy-paste it.
func (m *Manager) launchBrowser(authURL string) {
	m.logger.Info("opening browser for authorization")

	if err := m.openURL(authURL); err != nil {
		m.logger.Warn("failed to open browser, printing URL",
			slog.String("error", err.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
