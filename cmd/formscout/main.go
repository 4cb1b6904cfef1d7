package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/config"
	"github.com/csheth/formscout/internal/geometry"
	"github.com/csheth/formscout/internal/highlight"
	"github.com/csheth/formscout/internal/logging"
	"github.com/csheth/formscout/internal/tui"
	"github.com/csheth/formscout/internal/upload"
	"github.com/csheth/formscout/internal/workspace"
)

const userAgent = "formscout/0.1"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprint(stdout, config.Usage())
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n\n%s", err, config.Usage())
		return 2
	}

	logOpts := logging.Options{Level: cfg.LogLevel, File: cfg.LogFile}
	if cfg.List {
		logOpts.Console = stderr
	}
	closeLog, err := logging.Setup(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "logging error: %v\n", err)
		return 1
	}
	defer func() { _ = closeLog() }()

	client, err := api.NewClient(cfg.Server,
		api.WithTimeout(cfg.Timeout),
		api.WithToken(cfg.Token),
		api.WithUserAgent(userAgent),
	)
	if err != nil {
		fmt.Fprintf(stderr, "client error: %v\n", err)
		return 1
	}

	ws, err := workspace.Open(client, workspace.Config{
		Upload: upload.Config{
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollAttempts,
			MaxSize:     cfg.MaxFileSize,
		},
		Highlight: highlight.Config{
			Debounce:   cfg.Debounce,
			Normalizer: geometry.Normalizer{Mode: cfg.Coords, Scale: cfg.RenderScale},
		},
		CacheDir:    cfg.CacheDir,
		DownloadDir: cfg.DownloadDir,
	})
	if err != nil {
		fmt.Fprintf(stderr, "workspace error: %v\n", err)
		return 1
	}
	defer ws.Close()

	log.Info().Str("server", cfg.Server).Bool("list", cfg.List).Msg("formscout starting")

	if cfg.List {
		if err := listForms(context.Background(), ws, cfg.Output, stdout); err != nil {
			fmt.Fprintf(stderr, "list error: %v\n", err)
			return 1
		}
		return 0
	}

	opts := []tea.ProgramOption{}
	if !cfg.NoAltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(tui.New(tui.Config{Workspace: ws, File: cfg.File}), opts...)
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(stderr, "program error: %v\n", err)
		return 1
	}
	return 0
}

type formRecord struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	CreatedAt string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	FileSize  int64  `json:"file_size,omitempty" yaml:"file_size,omitempty"`
}

// listForms prints the history newest first.
func listForms(ctx context.Context, ws *workspace.Workspace, format string, w io.Writer) error {
	forms, err := ws.History(ctx)
	if err != nil {
		return err
	}
	records := make([]formRecord, 0, len(forms))
	for _, form := range forms {
		records = append(records, formRecord{
			ID:        string(form.ID),
			Name:      form.Name,
			Status:    form.Status,
			CreatedAt: form.CreatedAt,
			FileSize:  form.FileSize,
		})
	}

	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
