package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "typo in key",
			content: "[links]\nexpiry_dys = 3\n",
			want:    `unknown config key "expiry_dys" in [links], did you mean "expiry_days"?`,
		},
		{
			name:    "key without section",
			content: "log_level = \"debug\"\n",
			want:    `config key "log_level" must be inside the [logging] section`,
		},
		{
			name:    "typo in section",
			content: "[linkz]\nexpiry_days = 3\n",
			want:    `unknown config section "linkz", did you mean "links"?`,
		},
		{
			name:    "unrelated key",
			content: "[auth]\nzzzzzzzzzzzz = 1\n",
			want:    `unknown config key "zzzzzzzzzzzz" in [auth]`,
		},
		{
			name:    "unrelated section",
			content: "[qqqqqqqqqq]\nx = 1\n",
			want:    `unknown config section "qqqqqqqqqq"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTestConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnknownKeys_SectionReportedOnce(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[linkz]\nexpiry_days = 3\nparallel_conversions = 2\n"))
	require.Error(t, err)

	assert.Equal(t, `unknown config section "linkz", did you mean "links"?`, err.Error())
}

func TestClosestMatch(t *testing.T) {
	keys := knownKeys["links"]

	assert.Equal(t, "path_root", closestMatch("path_rot", keys))
	assert.Equal(t, "dropbox_dir", closestMatch("dropbox_dr", keys))
	assert.Empty(t, closestMatch("completely_different", keys))
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"links", "linkz", 1},
		{"same", "same", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, levenshtein(tt.a, tt.b), "%s/%s", tt.a, tt.b)
	}
}
