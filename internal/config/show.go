package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as TOML-like text to w.
// This powers "config show": the values after all four override layers.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n", r.ConfigPath)
	ew.printf("# Credentials: %s\n\n", r.CredentialPath)

	ew.printf("[auth]\n")
	ew.printf("client_id        = %q\n", r.ClientID)
	ew.printf("callback_port    = %d\n", r.CallbackPort)
	ew.printf("callback_timeout = %q\n", r.CallbackTimeout)
	ew.printf("expiry_margin    = %q\n", r.ExpiryMargin)
	ew.printf("auth_url         = %q\n", r.AuthURL)
	ew.printf("token_url        = %q\n\n", r.TokenURL)

	ew.printf("[links]\n")
	ew.printf("dropbox_dir          = %q\n", r.DropboxDir)
	ew.printf("account_type         = %q\n", r.AccountType)
	ew.printf("expiry_days          = %d\n", int(r.Expiry.Hours()/24))
	ew.printf("parallel_conversions = %d\n", r.ParallelConversions)
	ew.printf("size_threshold       = %d\n", r.SizeThreshold)
	ew.printf("path_root            = %q\n\n", r.PathRoot)

	ew.printf("[logging]\n")
	ew.printf("log_level  = %q\n", r.LogLevel)
	ew.printf("log_format = %q\n\n", r.LogFormat)

	ew.printf("[network]\n")
	ew.printf("api_url         = %q\n", r.APIURL)
	ew.printf("connect_timeout = %q\n", r.ConnectTimeout)
	ew.printf("user_agent      = %q\n", r.UserAgent)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
