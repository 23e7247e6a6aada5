package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minPort                = 1
	maxPort                = 65535
	minCallbackTimeout     = 30 * time.Second
	minExpiryMargin        = 1 * time.Minute
	maxExpiryMargin        = 1 * time.Hour
	minExpiryDays          = 1
	maxExpiryDays          = 365
	minParallelConversions = 1
	maxParallelConversions = 16
	minConnectTimeout      = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateLinks(&cfg.Links)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// validateResolved checks constraints that only make sense after env and
// CLI overrides have been applied.
func validateResolved(r *Resolved) error {
	var errs []error

	if r.DropboxDir != "" && !filepath.IsAbs(r.DropboxDir) {
		errs = append(errs, fmt.Errorf("dropbox_dir: must be absolute after expansion, got %q", r.DropboxDir))
	}

	if r.Expiry < minExpiryDays*24*time.Hour || r.Expiry > maxExpiryDays*24*time.Hour {
		errs = append(errs, fmt.Errorf("expiry_days: must be between %d and %d, got %s",
			minExpiryDays, maxExpiryDays, r.Expiry))
	}

	if r.SizeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("size_threshold: must be positive, got %d bytes", r.SizeThreshold))
	}

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.CallbackPort < minPort || a.CallbackPort > maxPort {
		errs = append(errs, fmt.Errorf("callback_port: must be between %d and %d, got %d",
			minPort, maxPort, a.CallbackPort))
	}

	errs = append(errs, validateDurationMin("callback_timeout", a.CallbackTimeout, minCallbackTimeout)...)
	errs = append(errs, validateDurationRange("expiry_margin", a.ExpiryMargin, minExpiryMargin, maxExpiryMargin)...)
	errs = append(errs, validateURL("auth_url", a.AuthURL)...)
	errs = append(errs, validateURL("token_url", a.TokenURL)...)

	return errs
}

var validAccountTypes = map[string]bool{
	AccountTypePersonal: true,
	AccountTypeBusiness: true,
}

func validateLinks(l *LinksConfig) []error {
	var errs []error

	if !validAccountTypes[l.AccountType] {
		errs = append(errs, fmt.Errorf("account_type: must be one of personal, business; got %q", l.AccountType))
	}

	if l.ExpiryDays < minExpiryDays || l.ExpiryDays > maxExpiryDays {
		errs = append(errs, fmt.Errorf("expiry_days: must be between %d and %d, got %d",
			minExpiryDays, maxExpiryDays, l.ExpiryDays))
	}

	if l.ParallelConversions < minParallelConversions || l.ParallelConversions > maxParallelConversions {
		errs = append(errs, fmt.Errorf("parallel_conversions: must be between %d and %d, got %d",
			minParallelConversions, maxParallelConversions, l.ParallelConversions))
	}

	if n, err := ParseSize(l.SizeThreshold); err != nil {
		errs = append(errs, fmt.Errorf("size_threshold: %w", err))
	} else if n == 0 {
		errs = append(errs, errors.New("size_threshold: must be positive"))
	}

	if l.PathRoot == "" {
		errs = append(errs, errors.New("path_root: must be auto, home, or a namespace id"))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateURL("api_url", n.APIURL)...)
	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)

	return errs
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationRange(field, value string, minimum, maximum time.Duration) []error {
	if errs := validateDurationMin(field, value, minimum); errs != nil {
		return errs
	}

	// Already parsed successfully above.
	if d, _ := time.ParseDuration(value); d > maximum {
		return []error{fmt.Errorf("%s: must be <= %s, got %s", field, maximum, d)}
	}

	return nil
}
