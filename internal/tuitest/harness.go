// Package tuitest drives the formscout binary inside a pseudo terminal and
// records what it draws, so end-to-end tests can assert on real frames.
package tuitest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

const (
	defaultWidth   = 120
	defaultHeight  = 40
	defaultTimeout = 10 * time.Second
	waitPoll       = 25 * time.Millisecond
)

// Step is one scripted interaction. The harness first waits Delay, then,
// when WaitFor is set, until the screen shows that text, and finally writes
// Input.
type Step struct {
	Delay   time.Duration
	WaitFor string
	Input   []byte
}

// Config describes the program to spawn and the script to replay.
type Config struct {
	Command          []string
	Dir              string
	Env              []string
	Width            int
	Height           int
	Steps            []Step
	Timeout          time.Duration
	AllowedExitCodes []int
	AllowInterrupt   bool
}

// Recording is the raw terminal stream plus the frames parsed from it.
type Recording struct {
	Raw      []byte
	Frames   []Frame
	Duration time.Duration
}

// Run starts cfg.Command in a PTY, replays the steps and waits for the
// program to exit.
func Run(ctx context.Context, cfg Config) (*Recording, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("tuitest: command is required")
	}
	cfg = withDefaults(cfg)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = buildEnv(cfg.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(cfg.Height), Cols: uint16(cfg.Width)})
	if err != nil {
		return nil, fmt.Errorf("tuitest: start program: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	out := &screenBuffer{}
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		responder := newTerminalResponder(ptmx)
		buf := make([]byte, 4096)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				responder.Process(buf[:n])
				out.Write(buf[:n])
			}
			if readErr != nil {
				return
			}
		}
	}()

	start := time.Now()
	for i, step := range cfg.Steps {
		if err := play(ctx, ptmx, out, step); err != nil {
			return nil, fmt.Errorf("tuitest: step %d: %w\n--- screen ---\n%s", i, err, tail(out.Plain(), 40))
		}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()
	select {
	case err := <-waitErr:
		if err != nil && !exitAllowed(err, cfg) {
			return nil, fmt.Errorf("tuitest: program exited with error: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("tuitest: timeout waiting for program exit: %w", ctx.Err())
	}

	_ = ptmx.Close()
	<-copyDone

	raw := out.Bytes()
	return &Recording{Raw: raw, Frames: parseFrames(raw), Duration: time.Since(start)}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Width <= 0 {
		cfg.Width = defaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultHeight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

func play(ctx context.Context, w io.Writer, out *screenBuffer, step Step) error {
	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step.Delay):
		}
	}
	if step.WaitFor != "" {
		if err := waitFor(ctx, out, step.WaitFor); err != nil {
			return err
		}
	}
	if len(step.Input) > 0 {
		if _, err := w.Write(step.Input); err != nil {
			return fmt.Errorf("write input: %w", err)
		}
	}
	return nil
}

func waitFor(ctx context.Context, out *screenBuffer, text string) error {
	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()
	for {
		if strings.Contains(out.Plain(), text) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %q: %w", text, ctx.Err())
		case <-ticker.C:
		}
	}
}

func exitAllowed(err error, cfg Config) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		for _, code := range cfg.AllowedExitCodes {
			if exitErr.ExitCode() == code {
				return true
			}
		}
	}
	return cfg.AllowInterrupt && strings.Contains(err.Error(), "signal: interrupt")
}

func buildEnv(extra []string) []string {
	env := append(os.Environ(), extra...)
	for _, entry := range env {
		if strings.HasPrefix(entry, "TERM=") {
			return env
		}
	}
	return append(env, "TERM=xterm-256color")
}

func tail(s string, lines int) string {
	parts := strings.Split(s, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}

// screenBuffer collects PTY output while steps poll it.
type screenBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *screenBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

func (b *screenBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// Plain returns everything drawn so far with escape sequences removed.
func (b *screenBuffer) Plain() string {
	return stripANSI(strings.ReplaceAll(string(b.Bytes()), "\r", ""))
}

// Text encodes typed characters.
func Text(s string) []byte { return []byte(s) }

var (
	KeyEnter = []byte{'\r'}
	KeyEsc   = []byte{27}
	KeyCtrlC = []byte{3}
	KeyCtrlD = []byte{4}
	KeyCtrlG = []byte{7}
	KeyCtrlO = []byte{15}
	KeyCtrlR = []byte{18}
	KeyPgUp  = []byte("\x1b[5~")
	KeyPgDn  = []byte("\x1b[6~")
)
