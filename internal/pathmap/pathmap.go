// Package pathmap maps local files inside the synced Dropbox folder to their
// Dropbox paths and derives display names for them.
package pathmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Account types as keyed in the desktop client's info.json.
const (
	AccountPersonal = "personal"
	AccountBusiness = "business"
)

// infoFileRel is info.json relative to the user's home directory.
var infoFileRel = filepath.Join(".dropbox", "info.json")

var (
	ErrOutsideFolder = errors.New("pathmap: file is not inside the Dropbox folder")
	ErrNotDiscovered = errors.New("pathmap: Dropbox folder not found")
)

// accountInfo is one account block of info.json.
type accountInfo struct {
	Path   string `json:"path"`
	IsTeam bool   `json:"is_team"`
}

// Discover reads the desktop client's info.json under home and returns the
// local folder for accountType. An empty accountType prefers personal and
// falls back to business.
func Discover(home, accountType string) (string, error) {
	data, err := os.ReadFile(filepath.Join(home, infoFileRel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrNotDiscovered, filepath.Join(home, infoFileRel))
		}

		return "", fmt.Errorf("pathmap: reading info.json: %w", err)
	}

	var accounts map[string]accountInfo
	if err := json.Unmarshal(data, &accounts); err != nil {
		return "", fmt.Errorf("pathmap: parsing info.json: %w", err)
	}

	order := []string{accountType}
	if accountType == "" {
		order = []string{AccountPersonal, AccountBusiness}
	}

	for _, key := range order {
		if info, ok := accounts[key]; ok && info.Path != "" {
			return filepath.Clean(info.Path), nil
		}
	}

	return "", fmt.Errorf("%w: no %q account in info.json", ErrNotDiscovered, strings.Join(order, "/"))
}

// Mapper converts local paths under Root into Dropbox paths.
type Mapper struct {
	root string
}

// NewMapper returns a Mapper rooted at the absolute, cleaned form of root.
func NewMapper(root string) (*Mapper, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty folder path", ErrNotDiscovered)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("pathmap: resolving %s: %w", root, err)
	}

	return &Mapper{root: abs}, nil
}

// Root returns the local Dropbox folder.
func (m *Mapper) Root() string {
	return m.root
}

// Remote returns the Dropbox path for localPath: slash-separated, rooted at
// "/", each segment NFC-normalized. The folder itself is not a valid target.
func (m *Mapper) Remote(localPath string) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("pathmap: resolving %s: %w", localPath, err)
	}

	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s (folder %s)", ErrOutsideFolder, localPath, m.root)
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		segments[i] = norm.NFC.String(s)
	}

	return "/" + strings.Join(segments, "/"), nil
}

// DisplayName returns the cleaned file name shown to recipients: the base
// name NFC-normalized, control characters dropped, whitespace runs collapsed
// to one space.
func DisplayName(localPath string) string {
	base := filepath.Base(localPath)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}

	var b strings.Builder

	space := false

	for _, r := range norm.NFC.String(base) {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}

		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}

		space = false

		b.WriteRune(r)
	}

	return b.String()
}
