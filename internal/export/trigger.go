// Package export asks the server to render the filled PDF for a completed
// conversation and keeps the most recent artifact handle for download.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/events"
	"github.com/csheth/formscout/internal/schedule"
)

// User-visible message for a failed manual generation.
const MsgGenerateFailed = "Failed to generate PDF. Please try again."

var (
	// ErrInFlight is returned when a generation is already running.
	ErrInFlight = errors.New("pdf generation already in progress")
	// ErrNoArtifact is returned by Download before anything was generated.
	ErrNoArtifact = errors.New("no generated pdf yet")
	// ErrMissingSession is returned when Generate lacks a document or session.
	ErrMissingSession = errors.New("document and session are required")
	// ErrSuperseded is returned when Reset overtook a running generation.
	ErrSuperseded = errors.New("pdf generation superseded")
)

// Service is the part of the HTTP facade the trigger needs.
type Service interface {
	GeneratePDF(ctx context.Context, formID, sessionID string) (*api.PDFResponse, error)
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Artifact is a handle to a generated PDF.
type Artifact struct {
	URL        string
	DocumentID string
	SessionID  string
	CreatedAt  time.Time
}

// Filename is the local name a download is saved under.
func (a Artifact) Filename() string {
	if u, err := url.Parse(a.URL); err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "." && base != "/" {
			return base
		}
	}
	id := a.DocumentID
	if id == "" {
		id = "form"
	}
	return id + ".pdf"
}

// Snapshot is a read-only copy of the export state.
type Snapshot struct {
	Artifact   *Artifact
	InFlight   bool
	LastError  string
	Retryable  bool
	Downloaded string
}

// Trigger serializes PDF generation for the current conversation.
type Trigger struct {
	svc     Service
	clock   schedule.Clock
	changes *events.Topic[Snapshot]

	mu         sync.Mutex
	latest     *Artifact
	inFlight   bool
	lastErr    string
	lastDoc    string
	lastSess   string
	downloaded string
	gen        uint64
	cancel     context.CancelFunc
}

// New returns an empty trigger. clock may be nil.
func New(svc Service, clock schedule.Clock) *Trigger {
	if clock == nil {
		clock = schedule.System
	}
	return &Trigger{svc: svc, clock: clock, changes: events.NewTopic[Snapshot]()}
}

// Changes publishes a snapshot after every transition.
func (t *Trigger) Changes() *events.Topic[Snapshot] { return t.changes }

// Snapshot returns a copy of the current state.
func (t *Trigger) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Generate requests a PDF for the session. On success the artifact replaces
// the retained one; on failure the previous artifact is kept and the failure
// is recorded as retryable.
func (t *Trigger) Generate(ctx context.Context, documentID, sessionID string) (Artifact, error) {
	if documentID == "" || sessionID == "" {
		return Artifact{}, ErrMissingSession
	}

	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		return Artifact{}, ErrInFlight
	}
	t.inFlight = true
	t.lastDoc, t.lastSess = documentID, sessionID
	gen := t.gen
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.changes.Publish(snap)

	resp, err := t.svc.GeneratePDF(ctx, documentID, sessionID)
	cancel()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return Artifact{}, ErrSuperseded
	}
	t.inFlight = false
	t.cancel = nil
	if err != nil {
		t.lastErr = MsgGenerateFailed
		snap = t.snapshotLocked()
		t.mu.Unlock()
		log.Warn().Err(err).Str("form", documentID).Msg("pdf generation failed")
		t.changes.Publish(snap)
		return Artifact{}, fmt.Errorf("generate pdf: %w", err)
	}
	art := Artifact{
		URL:        resp.URL,
		DocumentID: documentID,
		SessionID:  sessionID,
		CreatedAt:  t.clock.Now(),
	}
	t.latest = &art
	t.lastErr = ""
	t.downloaded = ""
	snap = t.snapshotLocked()
	t.mu.Unlock()

	log.Info().Str("form", documentID).Str("url", art.URL).Msg("pdf generated")
	t.changes.Publish(snap)
	return art, nil
}

// Retry repeats the last Generate request.
func (t *Trigger) Retry(ctx context.Context) (Artifact, error) {
	t.mu.Lock()
	doc, sess := t.lastDoc, t.lastSess
	t.mu.Unlock()
	return t.Generate(ctx, doc, sess)
}

// Download saves the retained artifact into dir and returns the file path.
func (t *Trigger) Download(ctx context.Context, dir string) (string, error) {
	t.mu.Lock()
	if t.latest == nil {
		t.mu.Unlock()
		return "", ErrNoArtifact
	}
	art := *t.latest
	gen := t.gen
	t.mu.Unlock()

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	body, err := t.svc.Fetch(ctx, art.URL)
	if err != nil {
		return "", fmt.Errorf("download pdf: %w", err)
	}
	defer body.Close()

	target := filepath.Join(dir, art.Filename())
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(art.Filename(), ".pdf")+"-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close pdf: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move pdf into place: %w", err)
	}

	t.mu.Lock()
	if gen == t.gen {
		t.downloaded = target
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	log.Info().Str("path", target).Msg("pdf downloaded")
	t.changes.Publish(snap)
	return target, nil
}

// Reset forgets the artifact and abandons any running generation.
func (t *Trigger) Reset() {
	t.mu.Lock()
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.latest = nil
	t.inFlight = false
	t.lastErr = ""
	t.lastDoc, t.lastSess = "", ""
	t.downloaded = ""
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.changes.Publish(snap)
}

func (t *Trigger) snapshotLocked() Snapshot {
	snap := Snapshot{
		InFlight:   t.inFlight,
		LastError:  t.lastErr,
		Retryable:  t.lastErr != "" && t.lastDoc != "" && t.lastSess != "",
		Downloaded: t.downloaded,
	}
	if t.latest != nil {
		art := *t.latest
		snap.Artifact = &art
	}
	return snap
}
