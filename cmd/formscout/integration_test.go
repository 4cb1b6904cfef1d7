package main

import (
	"context"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/csheth/formscout/internal/api/apitest"
	"github.com/csheth/formscout/internal/tuitest"
)

func TestFormScoutFillsFormEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	t.Parallel()

	srv := apitest.NewServer(apitest.Options{ReadyAfter: 1})
	t.Cleanup(srv.Close)

	work := t.TempDir()
	downloads := filepath.Join(work, "downloads")
	if err := os.Mkdir(downloads, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	form := filepath.Join(work, "scan.png")
	writeScan(t, form)

	cmdDir := moduleDir(t)
	binary := buildBinary(t, cmdDir)
	rec, err := tuitest.Run(context.Background(), tuitest.Config{
		Command: []string{
			binary,
			"--no-alt-screen",
			"--server", srv.URL,
			"--poll-interval", "100ms",
			"--debounce", "50ms",
			"--cache-dir", filepath.Join(work, "cache"),
			"--download-dir", downloads,
			"--log-file", filepath.Join(work, "formscout.log"),
			form,
		},
		Dir: cmdDir,
		Steps: []tuitest.Step{
			{WaitFor: "What is your full name?", Input: tuitest.Text("Jane Doe")},
			{Delay: 100 * time.Millisecond, Input: tuitest.KeyEnter},
			{WaitFor: "What is your date of birth?", Input: tuitest.Text("1990-01-01")},
			{Delay: 100 * time.Millisecond, Input: tuitest.KeyEnter},
			{WaitFor: "Please type your signature.", Input: tuitest.Text("Jane Doe")},
			{Delay: 100 * time.Millisecond, Input: tuitest.KeyEnter},
			{WaitFor: "Download ready", Input: tuitest.KeyCtrlD},
			{WaitFor: "Saved ", Input: tuitest.KeyCtrlC},
		},
		Timeout:        20 * time.Second,
		AllowInterrupt: true,
	})
	if err != nil {
		t.Fatalf("run CLI: %v", err)
	}

	if !rec.Contains("Searching: Full name") {
		t.Fatalf("highlight status never shown for the first field")
	}
	entries, err := os.ReadDir(downloads)
	if err != nil {
		t.Fatalf("read downloads: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".pdf") {
		t.Fatalf("expected one downloaded PDF, got %v", entries)
	}
}

func TestFormScoutHistoryPicker(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	t.Parallel()

	srv := apitest.NewServer(apitest.Options{Forms: []apitest.Form{
		{ID: "lease", Name: "lease.pdf", Status: "ready", CreatedAt: "2024-01-02T10:00:00Z"},
	}})
	t.Cleanup(srv.Close)
	work := t.TempDir()

	cmdDir := moduleDir(t)
	binary := buildBinary(t, cmdDir)
	rec, err := tuitest.Run(context.Background(), tuitest.Config{
		Command: []string{
			binary,
			"--no-alt-screen",
			"--server", srv.URL,
			"--cache-dir", filepath.Join(work, "cache"),
			"--log-file", filepath.Join(work, "formscout.log"),
		},
		Dir: cmdDir,
		Steps: []tuitest.Step{
			{WaitFor: "Form file", Input: tuitest.KeyCtrlO},
			{WaitFor: "lease.pdf", Input: tuitest.KeyEnter},
			{WaitFor: "What is your full name?", Input: tuitest.KeyCtrlC},
		},
		Timeout:        15 * time.Second,
		AllowInterrupt: true,
	})
	if err != nil {
		t.Fatalf("run CLI: %v", err)
	}
	if !rec.Contains("Form History") {
		t.Fatalf("history view never rendered")
	}
}

func writeScan(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 100, 200))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func moduleDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime caller unavailable")
	}
	return filepath.Dir(file)
}

func buildBinary(t *testing.T, cmdDir string) string {
	t.Helper()
	tmp := t.TempDir()
	name := "formscout-integration"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	binPath := filepath.Join(tmp, name)
	cmd := exec.Command("go", "build", "-o", binPath, ".")
	cmd.Dir = cmdDir
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build CLI: %v\n%s", err, output)
	}
	return binPath
}
