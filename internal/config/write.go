package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is written the first time a key is saved. Every setting is
// present as a commented-out default; later edits are line-level, so user
// changes and comments survive.
const configTemplate = `# dbxlink configuration

[auth]
# Dropbox app key. Register http://localhost:53682/callback as redirect URI.
# client_id = ""
# callback_port = 53682
# callback_timeout = "5m"
# expiry_margin = "5m"

[links]
# Local Dropbox folder. Empty means read ~/.dropbox/info.json.
# dropbox_dir = ""
# account_type = "personal"
# expiry_days = 7
# parallel_conversions = 4
# size_threshold = "10MiB"
# path_root = "auto"

[logging]
# log_level = "info"
# log_format = "auto"

[network]
# connect_timeout = "10s"
# user_agent = ""
`

// SetKey sets key = value in [section] of the config file at path, creating
// the file from the template when it does not exist. An existing key line is
// replaced in place; otherwise the key is inserted after the section header,
// and a missing section is appended.
func SetKey(path, section, key, value string) error {
	keys, ok := knownKeys[section]
	if !ok {
		return fmt.Errorf("unknown config section %q", section)
	}

	if !slices.Contains(keys, key) {
		return fmt.Errorf("unknown config key %q in [%s]", key, section)
	}

	slog.Info("setting config key",
		slog.String("path", path),
		slog.String("section", section),
		slog.String("key", key),
	)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	newLine := fmt.Sprintf("%s = %s", key, formatTOMLValue(key, value))

	header := findSectionHeader(lines, section)
	if header < 0 {
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}

		lines = append(lines, "", "["+section+"]", newLine, "")
	} else {
		lines = setKeyInSection(lines, header, key, newLine)
	}

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader returns the line index of [section], or -1.
func findSectionHeader(lines []string, section string) int {
	header := "[" + section + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the next section header after
// headerLine, or len(lines).
func findSectionEnd(lines []string, headerLine int) int {
	for i := headerLine + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			return i
		}
	}

	return len(lines)
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header. Commented-out defaults are left alone.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, headerLine)

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, key+" ") || strings.HasPrefix(trimmed, key+"=") {
			lines[i] = newLine
			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// integerKeys are written bare; every other value is a quoted string.
var integerKeys = map[string]bool{
	"callback_port":        true,
	"expiry_days":          true,
	"parallel_conversions": true,
}

// formatTOMLValue formats a value for TOML output.
func formatTOMLValue(key, value string) string {
	if _, err := strconv.Atoi(value); err == nil && integerKeys[key] {
		return value
	}

	return strconv.Quote(value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over path. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
