package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Auth.CallbackPort = 0 }, "callback_port"},
		{"port too high", func(c *Config) { c.Auth.CallbackPort = 70000 }, "callback_port"},
		{"callback timeout short", func(c *Config) { c.Auth.CallbackTimeout = "10s" }, "callback_timeout"},
		{"callback timeout garbage", func(c *Config) { c.Auth.CallbackTimeout = "soon" }, "callback_timeout"},
		{"expiry margin short", func(c *Config) { c.Auth.ExpiryMargin = "5s" }, "expiry_margin"},
		{"expiry margin long", func(c *Config) { c.Auth.ExpiryMargin = "2h" }, "expiry_margin"},
		{"auth url scheme", func(c *Config) { c.Auth.AuthURL = "ftp://example.com" }, "auth_url"},
		{"token url relative", func(c *Config) { c.Auth.TokenURL = "/oauth2/token" }, "token_url"},
		{"account type", func(c *Config) { c.Links.AccountType = "family" }, "account_type"},
		{"expiry days zero", func(c *Config) { c.Links.ExpiryDays = 0 }, "expiry_days"},
		{"expiry days high", func(c *Config) { c.Links.ExpiryDays = 400 }, "expiry_days"},
		{"parallel zero", func(c *Config) { c.Links.ParallelConversions = 0 }, "parallel_conversions"},
		{"parallel high", func(c *Config) { c.Links.ParallelConversions = 17 }, "parallel_conversions"},
		{"threshold garbage", func(c *Config) { c.Links.SizeThreshold = "huge" }, "size_threshold"},
		{"threshold zero", func(c *Config) { c.Links.SizeThreshold = "0" }, "size_threshold"},
		{"path root empty", func(c *Config) { c.Links.PathRoot = "" }, "path_root"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"api url", func(c *Config) { c.Network.APIURL = "not a url" }, "api_url"},
		{"connect timeout", func(c *Config) { c.Network.ConnectTimeout = "100ms" }, "connect_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_Boundaries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.CallbackPort = 65535
	cfg.Auth.CallbackTimeout = "30s"
	cfg.Auth.ExpiryMargin = "1h"
	cfg.Links.ExpiryDays = 365
	cfg.Links.ParallelConversions = 16
	cfg.Links.PathRoot = "1234567"
	cfg.Network.ConnectTimeout = "1s"

	assert.NoError(t, Validate(cfg))
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.CallbackPort = -1
	cfg.Links.ExpiryDays = -1
	cfg.Logging.LogFormat = "yaml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback_port")
	assert.Contains(t, err.Error(), "expiry_days")
	assert.Contains(t, err.Error(), "log_format")
}
