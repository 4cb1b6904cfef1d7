// Package config resolves formscout settings from flags, FORMSCOUT_*
// environment variables and an optional YAML file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/csheth/formscout/internal/document"
	"github.com/csheth/formscout/internal/geometry"
)

const (
	EnvPrefix = "FORMSCOUT"

	DefaultServer       = "http://localhost:8000"
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 60
	DefaultDebounce     = 300 * time.Millisecond
	DefaultLogLevel     = "info"
	DefaultOutput       = "json"
)

// Config is the resolved client configuration.
type Config struct {
	Server       string
	Token        string
	Timeout      time.Duration
	PollInterval time.Duration
	PollAttempts int
	Debounce     time.Duration
	Coords       geometry.Mode
	RenderScale  float64
	MaxFileSize  int64
	CacheDir     string
	DownloadDir  string
	LogLevel     string
	LogFile      string
	NoAltScreen  bool
	List         bool
	Output       string

	// File is the optional document given as the first positional argument.
	File string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServer,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		PollAttempts: DefaultPollAttempts,
		Debounce:     DefaultDebounce,
		Coords:       geometry.ModeAuto,
		RenderScale:  1,
		MaxFileSize:  document.DefaultMaxSize,
		DownloadDir:  ".",
		LogLevel:     DefaultLogLevel,
		Output:       DefaultOutput,
	}
}

// Load parses args (without the program name) and returns the validated
// configuration. -h/--help yields an error wrapping pflag.ErrHelp.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	fs := newFlagSet(cfg)

	setupViper(v, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := populateConfigFromViper(v, cfg); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		cfg.File = rest[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Usage renders the flag help text.
func Usage() string {
	var b strings.Builder
	b.WriteString("Usage: formscout [flags] [file]\n\n")
	b.WriteString("Fill in PDF and image forms through a guided conversation.\n\nFlags:\n")
	b.WriteString(newFlagSet(DefaultConfig()).FlagUsages())
	b.WriteString("\nEvery flag can also be set as " + EnvPrefix + "_<FLAG> (dashes become underscores)\n")
	b.WriteString("or as a key in the file given to --config.\n")
	return b.String()
}

func setupViper(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	v.SetDefault("server", cfg.Server)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("poll-interval", cfg.PollInterval)
	v.SetDefault("poll-attempts", cfg.PollAttempts)
	v.SetDefault("debounce", cfg.Debounce)
	v.SetDefault("coords", string(cfg.Coords))
	v.SetDefault("render-scale", cfg.RenderScale)
	v.SetDefault("max-file-size", cfg.MaxFileSize)
	v.SetDefault("download-dir", cfg.DownloadDir)
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("output", cfg.Output)
}

func newFlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("formscout", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.String("config", "", "YAML config file")
	fs.String("server", cfg.Server, "Form service base URL")
	fs.String("token", "", "Bearer token sent with every request")
	fs.Duration("timeout", cfg.Timeout, "Per-request timeout")
	fs.Duration("poll-interval", cfg.PollInterval, "Delay between readiness checks")
	fs.Int("poll-attempts", cfg.PollAttempts, "Readiness checks before giving up")
	fs.Duration("debounce", cfg.Debounce, "Quiet period before a highlight search")
	fs.String("coords", string(cfg.Coords), "Search rect coordinates: auto, normalized or document")
	fs.Float64("render-scale", cfg.RenderScale, "Scale of document-space search rects relative to PDF points")
	fs.Int64("max-file-size", cfg.MaxFileSize, "Largest accepted upload in bytes")
	fs.String("cache-dir", "", "Page image cache directory")
	fs.String("download-dir", cfg.DownloadDir, "Where generated PDFs are saved")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-file", "", "Write logs to this file")
	fs.Bool("no-alt-screen", false, "Render inline instead of on the alternate screen")
	fs.Bool("list", false, "Print the form history and exit")
	fs.String("output", cfg.Output, "Format for --list: json or yaml")
	return fs
}

func populateConfigFromViper(v *viper.Viper, cfg *Config) error {
	mode, err := geometry.ParseMode(v.GetString("coords"))
	if err != nil {
		return err
	}
	cfg.Server = strings.TrimRight(strings.TrimSpace(v.GetString("server")), "/")
	cfg.Token = v.GetString("token")
	cfg.Timeout = v.GetDuration("timeout")
	cfg.PollInterval = v.GetDuration("poll-interval")
	cfg.PollAttempts = v.GetInt("poll-attempts")
	cfg.Debounce = v.GetDuration("debounce")
	cfg.Coords = mode
	cfg.RenderScale = v.GetFloat64("render-scale")
	cfg.MaxFileSize = v.GetInt64("max-file-size")
	cfg.CacheDir = v.GetString("cache-dir")
	cfg.DownloadDir = v.GetString("download-dir")
	cfg.LogLevel = strings.ToLower(v.GetString("log-level"))
	cfg.LogFile = v.GetString("log-file")
	cfg.NoAltScreen = v.GetBool("no-alt-screen")
	cfg.List = v.GetBool("list")
	cfg.Output = strings.ToLower(v.GetString("output"))
	return nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server must be an http(s) URL, got %q", c.Server)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.PollAttempts <= 0 {
		return errors.New("poll attempts must be positive")
	}
	if c.Debounce <= 0 {
		return errors.New("debounce must be positive")
	}
	if c.RenderScale <= 0 {
		return errors.New("render scale must be positive")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.Output != "json" && c.Output != "yaml" {
		return fmt.Errorf("invalid output format: %s (must be json or yaml)", c.Output)
	}
	return nil
}

// IsDebug reports whether debug logging is enabled.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}
