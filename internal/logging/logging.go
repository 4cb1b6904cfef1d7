// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects where log lines go.
type Options struct {
	Level string
	// File receives JSON lines when set.
	File string
	// Console is used when no file is given; nil discards output. The
	// interactive UI owns the terminal, so it passes nil.
	Console io.Writer
}

// Setup installs the global logger and returns a closer for the log file.
func Setup(opts Options) (func() error, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)

	closer := func() error { return nil }
	var out io.Writer
	switch {
	case opts.File != "":
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closer, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = f.Close
	case opts.Console != nil:
		out = zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.RFC3339}
	default:
		out = io.Discard
	}

	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
	return closer, nil
}
