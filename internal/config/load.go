package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// Config path: CLI > env > default.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ClientID != "" {
		cfg.Auth.ClientID = env.ClientID
	}

	if env.DropboxDir != "" {
		cfg.Links.DropboxDir = env.DropboxDir
	}

	if cli.DropboxDir != nil {
		cfg.Links.DropboxDir = *cli.DropboxDir
	}

	if cli.ExpiryDays != nil {
		cfg.Links.ExpiryDays = *cli.ExpiryDays
	}

	threshold := cfg.Links.SizeThreshold
	if cli.SizeThreshold != nil {
		threshold = *cli.SizeThreshold
	}

	resolved, err := resolve(cfg, threshold)
	if err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved.ConfigPath = cfgPath

	if err := validateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// resolve converts a validated Config into typed values. Durations and sizes
// that came from the file have already passed Validate; threshold may come
// from a flag and is checked here.
func resolve(cfg *Config, threshold string) (*Resolved, error) {
	sizeThreshold, err := ParseSize(threshold)
	if err != nil {
		return nil, fmt.Errorf("size_threshold: %w", err)
	}

	var errs []error

	parse := func(field, value string) time.Duration {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q: %w", field, value, err))
		}

		return d
	}

	r := &Resolved{
		CredentialPath:      DefaultCredentialPath(),
		ClientID:            cfg.Auth.ClientID,
		CallbackPort:        cfg.Auth.CallbackPort,
		CallbackTimeout:     parse("callback_timeout", cfg.Auth.CallbackTimeout),
		ExpiryMargin:        parse("expiry_margin", cfg.Auth.ExpiryMargin),
		AuthURL:             cfg.Auth.AuthURL,
		TokenURL:            cfg.Auth.TokenURL,
		DropboxDir:          expandTilde(cfg.Links.DropboxDir),
		AccountType:         cfg.Links.AccountType,
		Expiry:              time.Duration(cfg.Links.ExpiryDays) * 24 * time.Hour,
		ParallelConversions: cfg.Links.ParallelConversions,
		SizeThreshold:       sizeThreshold,
		PathRoot:            cfg.Links.PathRoot,
		LogLevel:            cfg.Logging.LogLevel,
		LogFormat:           cfg.Logging.LogFormat,
		APIURL:              cfg.Network.APIURL,
		ConnectTimeout:      parse("connect_timeout", cfg.Network.ConnectTimeout),
		UserAgent:           cfg.Network.UserAgent,
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return r, nil
}
