package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvDropboxDir, "/data/Dropbox")
	t.Setenv(EnvClientID, "app-key")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "/data/Dropbox", overrides.DropboxDir)
	assert.Equal(t, "app-key", overrides.ClientID)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvDropboxDir, "")
	t.Setenv(EnvClientID, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "DBXLINK_CONFIG", EnvConfig)
	assert.Equal(t, "DBXLINK_DROPBOX_DIR", EnvDropboxDir)
	assert.Equal(t, "DBXLINK_CLIENT_ID", EnvClientID)
}
