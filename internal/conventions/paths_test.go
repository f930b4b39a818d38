package conventions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/formbot/internal/conventions"
)

func TestPaths(t *testing.T) {
	tests := map[string]struct {
		path     func() string
		expected string
	}{
		"Database path": {
			path:     func() string { return conventions.DBPath("/data") },
			expected: "/data/formbot.db",
		},
		"Upload dir": {
			path:     func() string { return conventions.UploadDir("/data") },
			expected: "/data/uploads",
		},
		"Scenario path": {
			path:     func() string { return conventions.ScenarioPath("/data", "missing-policy") },
			expected: "/data/scenarios/missing-policy.yaml",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, test.path())
		})
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("HOME", "/home/operator")

	assert.Equal(t, "/home/operator/.formbot", conventions.DataDir())
}
