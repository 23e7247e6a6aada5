package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "DBXLINK_CONFIG"
	EnvDropboxDir = "DBXLINK_DROPBOX_DIR"
	EnvClientID   = "DBXLINK_CLIENT_ID"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DBXLINK_CONFIG: override config file path
	DropboxDir string // DBXLINK_DROPBOX_DIR: local Dropbox folder
	ClientID   string // DBXLINK_CLIENT_ID: Dropbox app key
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DropboxDir: os.Getenv(EnvDropboxDir),
		ClientID:   os.Getenv(EnvClientID),
	}
}
