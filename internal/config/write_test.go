package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetKey_CreatesFileFromTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, SetKey(path, "auth", "client_id", "app-key"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# dbxlink configuration")
	assert.Contains(t, content, "# expiry_days = 7")
	assert.Contains(t, content, `client_id = "app-key"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "app-key", cfg.Auth.ClientID)
}

func TestSetKey_ReplacesExistingLine(t *testing.T) {
	path := writeTestConfig(t, "[links]\n# a comment\nexpiry_days = 3\n")

	require.NoError(t, SetKey(path, "links", "expiry_days", "14"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[links]\n# a comment\nexpiry_days = 14\n", string(data))
}

func TestSetKey_InsertsAfterHeader(t *testing.T) {
	path := writeTestConfig(t, "[links]\nexpiry_days = 3\n\n[logging]\nlog_level = \"info\"\n")

	require.NoError(t, SetKey(path, "logging", "log_format", "json"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, 3, cfg.Links.ExpiryDays)
}

func TestSetKey_AppendsMissingSection(t *testing.T) {
	path := writeTestConfig(t, "[links]\nexpiry_days = 3\n")

	require.NoError(t, SetKey(path, "network", "user_agent", "custom/2"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[links]\nexpiry_days = 3\n\n[network]\nuser_agent = \"custom/2\"\n", string(data))
}

func TestSetKey_DoesNotTouchCommentedDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, SetKey(path, "links", "expiry_days", "30"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# expiry_days = 7")
	assert.Contains(t, string(data), "expiry_days = 30\n")
}

func TestSetKey_RejectsUnknownSectionOrKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	err := SetKey(path, "sync", "poll_interval", "5m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")

	err = SetKey(path, "links", "chunk_size", "10MiB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")

	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestFormatTOMLValue(t *testing.T) {
	assert.Equal(t, "7", formatTOMLValue("expiry_days", "7"))
	assert.Equal(t, `"123456"`, formatTOMLValue("client_id", "123456"))
	assert.Equal(t, `"seven"`, formatTOMLValue("expiry_days", "seven"))
	assert.Equal(t, `"10MiB"`, formatTOMLValue("size_threshold", "10MiB"))
}
