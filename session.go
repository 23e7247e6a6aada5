package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/dbxlink/internal/auth"
	"github.com/tonimelisma/dbxlink/internal/config"
	"github.com/tonimelisma/dbxlink/internal/convert"
	"github.com/tonimelisma/dbxlink/internal/credstore"
	"github.com/tonimelisma/dbxlink/internal/dropbox"
	"github.com/tonimelisma/dbxlink/internal/pathmap"
)

// httpClientTimeout bounds a single API request. Link calls are small JSON
// RPCs, so a hung connection is never worth waiting on longer.
const httpClientTimeout = 30 * time.Second

// Session holds the credential store, token manager, and API client for one
// command invocation.
type Session struct {
	Store  *credstore.FileStore
	Auth   *auth.Manager
	Client *dropbox.Client
}

// sessionOptions are test seams; the zero value is production behavior.
type sessionOptions struct {
	openURL func(string) error
	silent  bool // never open the browser
}

// NewSession wires the pieces together from the resolved config.
func NewSession(cc *CLIContext, opts sessionOptions) *Session {
	cfg := cc.Cfg
	httpClient := newHTTPClient(cfg.ConnectTimeout)

	store := credstore.NewFileStore(cfg.CredentialPath, "", cc.Logger)

	openURL := opts.openURL
	if openURL == nil {
		openURL = func(authURL string) error {
			// The URL is printed even in quiet mode: login cannot proceed
			// without it if the browser does not open.
			fmt.Fprintf(cc.Err, "Opening your browser to sign in to Dropbox. If it does not open, visit:\n  %s\n", authURL)
			return auth.OpenBrowser(authURL)
		}
	}

	mgr := auth.NewManager(store, auth.Options{
		ClientID:        cfg.ClientID,
		AuthURL:         cfg.AuthURL,
		TokenURL:        cfg.TokenURL,
		CallbackPort:    cfg.CallbackPort,
		CallbackTimeout: cfg.CallbackTimeout,
		ExpiryMargin:    cfg.ExpiryMargin,
		OpenURL:         openURL,
		HTTPClient:      httpClient,
		Logger:          cc.Logger,
	})

	var token dropbox.TokenSource = mgr
	if opts.silent {
		token = mgr.Silent()
	}

	client := dropbox.NewClient(cfg.APIURL, httpClient, token, cc.Logger, cfg.UserAgent)

	return &Session{Store: store, Auth: mgr, Client: client}
}

// newHTTPClient returns a client with a request timeout and the configured
// connect timeout.
func newHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext

	return &http.Client{Timeout: httpClientTimeout, Transport: transport}
}

// ConfigurePathRoot applies the path_root setting: "auto" asks Dropbox for the
// account and roots team spaces at their root namespace, "home" keeps the
// default, and anything else is taken as a namespace ID. The account is
// returned when it was fetched.
func (s *Session) ConfigurePathRoot(ctx context.Context, mode string) (*dropbox.Account, error) {
	switch mode {
	case config.PathRootAuto:
		acct, err := s.Client.ConfigurePathRoot(ctx)
		if err != nil {
			return nil, fmt.Errorf("looking up Dropbox account: %w", err)
		}

		return acct, nil
	case config.PathRootHome, "":
		s.Client.SetPathRoot("")
	default:
		s.Client.SetPathRoot(mode)
	}

	return nil, nil
}

// Converter returns a converter linking files under mapper through s.
func (s *Session) Converter(cc *CLIContext, mapper *pathmap.Mapper) *convert.Converter {
	return convert.NewConverter(convert.NewTracker(), s.Client, mapper, convert.Options{
		Expiry:   cc.Cfg.Expiry,
		Parallel: cc.Cfg.ParallelConversions,
		Logger:   cc.Logger,
	})
}

// newMapper maps against the configured Dropbox folder, or the one the
// desktop client recorded in ~/.dropbox/info.json.
func newMapper(cfg *config.Resolved) (*pathmap.Mapper, error) {
	dir, err := dropboxDir(cfg)
	if err != nil {
		return nil, err
	}

	return pathmap.NewMapper(dir)
}

func dropboxDir(cfg *config.Resolved) (string, error) {
	if cfg.DropboxDir != "" {
		return cfg.DropboxDir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}

	dir, err := pathmap.Discover(home, cfg.AccountType)
	if err != nil {
		return "", fmt.Errorf("%w (set dropbox_dir or --dropbox-dir)", err)
	}

	return filepath.Clean(dir), nil
}
