// Package credstore persists the single long-lived refresh credential that
// lets dbxlink mint access tokens without user interaction. Every operation
// is best-effort: storage faults are logged and reported as a boolean (or an
// absent secret) so an unavailable store only ever forces a fresh login.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultTarget is the application-scoped entry name for the Dropbox
// refresh credential.
const DefaultTarget = "dbxlink:dropbox-refresh-token"

// FilePerms restricts the credential file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the directory holding the credential file.
const DirPerms = 0o700

// Store is durable, opaque key/value persistence for one secret.
type Store interface {
	// Store saves secret, replacing any previous value.
	Store(secret string) bool
	// Retrieve returns the secret, or ("", false) when none is stored or the
	// store cannot be read.
	Retrieve() (string, bool)
	// Delete removes the secret. Deleting an absent secret succeeds.
	Delete() bool
}

// vaultFile is the on-disk format: named entries so several targets can share
// one file without clobbering each other.
type vaultFile struct {
	Entries map[string]string `json:"entries"`
}

// FileStore keeps the secret in a JSON file with 0600 permissions, written
// atomically (temp file + fsync + rename).
type FileStore struct {
	path   string
	target string
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore returns a FileStore for the given file and target name.
// An empty target selects DefaultTarget.
func NewFileStore(path, target string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	if target == "" {
		target = DefaultTarget
	}

	return &FileStore{path: path, target: target, logger: logger}
}

// Path returns the credential file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Store(secret string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	vf, err := s.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking the new secret.
		s.logger.Warn("credstore: discarding unreadable credential file",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		vf = &vaultFile{}
	}

	if vf.Entries == nil {
		vf.Entries = make(map[string]string, 1)
	}

	vf.Entries[s.target] = secret

	if err := s.save(vf); err != nil {
		s.logger.Warn("credstore: failed to store credential",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return false
	}

	s.logger.Debug("credstore: stored credential", slog.String("target", s.target))

	return true
}

func (s *FileStore) Retrieve() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vf, err := s.load()
	if err != nil {
		s.logger.Warn("credstore: failed to read credential",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return "", false
	}

	secret, ok := vf.Entries[s.target]
	if !ok || secret == "" {
		return "", false
	}

	return secret, true
}

func (s *FileStore) Delete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	vf, err := s.load()
	if err != nil {
		// Unreadable means nothing usable is stored; remove the file outright.
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("credstore: failed to remove credential file",
				slog.String("path", s.path),
				slog.String("error", rmErr.Error()),
			)

			return false
		}

		return true
	}

	if _, ok := vf.Entries[s.target]; !ok {
		return true
	}

	delete(vf.Entries, s.target)

	if len(vf.Entries) == 0 {
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("credstore: failed to remove credential file",
				slog.String("path", s.path),
				slog.String("error", rmErr.Error()),
			)

			return false
		}

		return true
	}

	if err := s.save(vf); err != nil {
		s.logger.Warn("credstore: failed to delete credential",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

// load reads the vault file. A missing file is an empty vault.
func (s *FileStore) load() (*vaultFile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &vaultFile{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}

	return &vf, nil
}

// save writes the vault atomically. Same directory guarantees same
// filesystem for rename(2).
func (s *FileStore) save(vf *vaultFile) error {
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}

// Memory is a process-local Store, used where nothing should touch disk.
type Memory struct {
	mu     sync.Mutex
	secret string
	set    bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Store(secret string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secret = secret
	m.set = true

	return true
}

func (m *Memory) Retrieve() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.set || m.secret == "" {
		return "", false
	}

	return m.secret, true
}

func (m *Memory) Delete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secret = ""
	m.set = false

	return true
}
