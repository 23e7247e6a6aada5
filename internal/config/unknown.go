package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section.
var knownKeys = map[string][]string{
	"auth": {
		"client_id", "callback_port", "callback_timeout", "expiry_margin", "auth_url", "token_url",
	},
	"links": {
		"dropbox_dir", "account_type", "expiry_days", "parallel_conversions", "size_threshold", "path_root",
	},
	"logging": {"log_level", "log_format"},
	"network": {"api_url", "connect_timeout", "user_agent"},
}

// knownSections is the sorted list of section names, for suggestions.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	slices.Sort(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || reported[err.Error()] {
			continue
		}

		reported[err.Error()] = true

		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, suggesting the closest known
// section or key.
func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		// A top-level key that belongs in a section, e.g. log_level without [logging].
		for name, sectionKeys := range knownKeys {
			if len(key) == 1 && slices.Contains(sectionKeys, section) {
				return fmt.Errorf("config key %q must be inside the [%s] section", section, name)
			}
		}

		if suggestion := closestMatch(section, knownSections); suggestion != "" {
			return fmt.Errorf("unknown config section %q, did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if len(key) < 2 {
		return fmt.Errorf("config section %q must be a table", section)
	}

	field := key[1]

	if suggestion := closestMatch(field, keys); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch finds the closest candidate by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance. Ties
// go to the earlier candidate.
func closestMatch(unknown string, candidates []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range candidates {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization: two rows instead of a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
