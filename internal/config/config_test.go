package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csheth/formscout/internal/geometry"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServer, cfg.Server)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultPollAttempts, cfg.PollAttempts)
	assert.Equal(t, DefaultDebounce, cfg.Debounce)
	assert.Equal(t, geometry.ModeAuto, cfg.Coords)
	assert.Equal(t, 1.0, cfg.RenderScale)
	assert.Equal(t, int64(20*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.Output)
	assert.Empty(t, cfg.File)
	assert.False(t, cfg.List)
}

func TestLoadFlagsAndPositionalFile(t *testing.T) {
	cfg, err := Load([]string{
		"--server", "https://forms.example.com/api/",
		"--poll-interval", "500ms",
		"--coords", "document",
		"--render-scale", "2",
		"--list", "--output", "YAML",
		"w9.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://forms.example.com/api", cfg.Server)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, geometry.ModeDocument, cfg.Coords)
	assert.Equal(t, 2.0, cfg.RenderScale)
	assert.True(t, cfg.List)
	assert.Equal(t, "yaml", cfg.Output)
	assert.Equal(t, "w9.pdf", cfg.File)
}

func TestPrecedenceFlagOverEnvOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formscout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"server: http://from-file:9000",
		"log-level: debug",
		"poll-attempts: 10",
		"token: file-token",
	}, "\n")), 0o644))

	t.Setenv("FORMSCOUT_POLL_ATTEMPTS", "20")
	t.Setenv("FORMSCOUT_TOKEN", "env-token")

	cfg, err := Load([]string{"--config", path, "--token", "flag-token"})
	require.NoError(t, err)

	assert.Equal(t, "http://from-file:9000", cfg.Server)
	assert.True(t, cfg.IsDebug())
	assert.Equal(t, 20, cfg.PollAttempts)
	assert.Equal(t, "flag-token", cfg.Token)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad server", []string{"--server", "ftp://x"}, "server must be"},
		{"no host", []string{"--server", "http://"}, "server must be"},
		{"zero timeout", []string{"--timeout", "0s"}, "timeout"},
		{"zero attempts", []string{"--poll-attempts", "0"}, "poll attempts"},
		{"bad coords", []string{"--coords", "pixels"}, "coordinate mode"},
		{"bad scale", []string{"--render-scale=-1"}, "render scale"},
		{"bad level", []string{"--log-level", "trace"}, "invalid log level"},
		{"bad output", []string{"--output", "xml"}, "invalid output"},
		{"unknown flag", []string{"--bogus"}, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestHelpAndUsage(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.True(t, errors.Is(err, pflag.ErrHelp))

	usage := Usage()
	assert.Contains(t, usage, "--poll-interval")
	assert.Contains(t, usage, "FORMSCOUT_<FLAG>")
}
