// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for dbxlink. Values resolve through four
// layers: defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth    AuthConfig    `toml:"auth"`
	Links   LinksConfig   `toml:"links"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AuthConfig controls the Dropbox OAuth2 app and the loopback login flow.
// callback_port must match the redirect URI registered for the app.
type AuthConfig struct {
	ClientID        string `toml:"client_id"`
	CallbackPort    int    `toml:"callback_port"`
	CallbackTimeout string `toml:"callback_timeout"`
	ExpiryMargin    string `toml:"expiry_margin"`
	AuthURL         string `toml:"auth_url"`
	TokenURL        string `toml:"token_url"`
}

// LinksConfig controls which folder links are made from and how links and
// attachments are treated.
type LinksConfig struct {
	DropboxDir          string `toml:"dropbox_dir"`
	AccountType         string `toml:"account_type"`
	ExpiryDays          int    `toml:"expiry_days"`
	ParallelConversions int    `toml:"parallel_conversions"`
	SizeThreshold       string `toml:"size_threshold"`
	PathRoot            string `toml:"path_root"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP client used for API calls.
type NetworkConfig struct {
	APIURL         string `toml:"api_url"`
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath    string  // --config flag (empty = use default)
	DropboxDir    *string // --dropbox-dir flag
	ExpiryDays    *int    // --expires-days flag
	SizeThreshold *string // --threshold flag
}

// Resolved is the effective configuration after all layers are applied, with
// durations and sizes parsed and paths expanded.
type Resolved struct {
	ConfigPath     string
	CredentialPath string

	ClientID        string
	CallbackPort    int
	CallbackTimeout time.Duration
	ExpiryMargin    time.Duration
	AuthURL         string
	TokenURL        string

	DropboxDir          string // empty = discover from info.json
	AccountType         string
	Expiry              time.Duration
	ParallelConversions int
	SizeThreshold       int64
	PathRoot            string

	LogLevel  string
	LogFormat string

	APIURL         string
	ConnectTimeout time.Duration
	UserAgent      string
}
