// Package upload drives a document from local file to server-side readiness:
// upload, then poll until the analysis pipeline reports ready, failed, or the
// attempt budget runs out.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/document"
	"github.com/csheth/formscout/internal/events"
	"github.com/csheth/formscout/internal/schedule"
)

// Status is the processing state shown to the user.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
	MaxLogs            = 5

	progressUploading  = 10
	progressProcessing = 30
	progressStep       = 2
	progressCeiling    = 90
	progressDone       = 100
	logEvery           = 5
)

// User-visible messages.
const (
	MsgUploadFailed    = "Upload failed. Please try again."
	MsgTimedOut        = "Processing timed out."
	MsgAnalysisFailed  = "Document analysis failed."
	logUploadComplete  = "Upload complete. Analyzing document..."
	logStillProcessing = "Identifying text and structures..."
	logReady           = "Analysis complete! Starting Assistant..."
)

// ErrSuperseded is returned by Submit when Reset or another Submit overtook it.
var ErrSuperseded = errors.New("upload superseded")

// Service is the part of the HTTP facade the orchestrator needs.
type Service interface {
	UploadForm(ctx context.Context, name, contentType string, r io.Reader) (*api.UploadResponse, error)
	FormStatus(ctx context.Context, id string) (*api.StatusResponse, error)
}

// Document is the server-side record of an uploaded file.
type Document struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
	Size      int64
}

// Snapshot is a read-only copy of the processing state.
type Snapshot struct {
	Status     Status
	Progress   int
	Logs       []string
	Error      string
	DocumentID string
	Document   *Document
	Attempts   int
}

// Ready reports whether a conversation may start for this document.
func (s Snapshot) Ready() bool {
	return s.Status == StatusCompleted && s.DocumentID != ""
}

// Config tunes polling.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	MaxSize     int64
	Clock       schedule.Clock
	// OnAccepted runs with the document id once the server has taken the
	// upload, before the first readiness poll is armed.
	OnAccepted func(documentID string)
}

// Orchestrator owns the processing state for one document at a time.
type Orchestrator struct {
	svc     Service
	cfg     Config
	poll    *schedule.Slot
	changes *events.Topic[Snapshot]

	mu     sync.Mutex
	state  Snapshot
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns an idle orchestrator.
func New(svc Service, cfg Config) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = document.DefaultMaxSize
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.System
	}
	return &Orchestrator{
		svc:     svc,
		cfg:     cfg,
		poll:    schedule.NewSlot(cfg.Clock),
		changes: events.NewTopic[Snapshot](),
		state:   Snapshot{Status: StatusIdle},
	}
}

// Changes publishes a snapshot after every transition.
func (o *Orchestrator) Changes() *events.Topic[Snapshot] { return o.changes }

// MaxSize is the upload limit in bytes.
func (o *Orchestrator) MaxSize() int64 { return o.cfg.MaxSize }

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Submit uploads file and starts polling. It blocks until the upload itself
// finishes and returns the server-assigned id. Invalid files are rejected
// before any state change or network call.
func (o *Orchestrator) Submit(ctx context.Context, file document.File) (string, error) {
	if !document.Allowed(file.MIME) {
		return "", fmt.Errorf("%w (got %s)", document.ErrUnsupportedType, file.MIME)
	}
	if file.Size > o.cfg.MaxSize {
		return "", fmt.Errorf("%w: %d bytes", document.ErrTooLarge, file.Size)
	}
	body, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer body.Close()

	o.mu.Lock()
	gen, reqCtx := o.restartLocked()
	o.state = Snapshot{Status: StatusUploading, Progress: progressUploading}
	o.addLogLocked(fmt.Sprintf("Starting upload for %s...", file.Name))
	snap := o.state.clone()
	o.mu.Unlock()
	o.changes.Publish(snap)

	upCtx, stop := mergeCancel(ctx, reqCtx)
	resp, err := o.svc.UploadForm(upCtx, file.Name, file.MIME, body)
	stop()

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return "", ErrSuperseded
	}
	if err != nil {
		o.state.Status = StatusError
		o.state.Error = MsgUploadFailed
		snap = o.state.clone()
		o.mu.Unlock()
		log.Warn().Err(err).Str("file", file.Name).Msg("upload failed")
		o.changes.Publish(snap)
		return "", fmt.Errorf("upload %s: %w", file.Name, err)
	}

	o.mu.Unlock()

	doc := documentFromForm(resp.Form)
	if doc.Name == "" {
		doc.Name = file.Name
	}
	if doc.Size == 0 {
		doc.Size = file.Size
	}
	if o.cfg.OnAccepted != nil {
		o.cfg.OnAccepted(doc.ID)
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return "", ErrSuperseded
	}
	o.state.Document = &doc
	o.state.DocumentID = doc.ID
	o.state.Status = StatusProcessing
	o.state.Progress = progressProcessing
	o.addLogLocked(logUploadComplete)
	o.schedulePollLocked(gen)
	snap = o.state.clone()
	o.mu.Unlock()

	log.Info().Str("form", doc.ID).Str("file", file.Name).Msg("upload complete, polling for readiness")
	o.changes.Publish(snap)
	return doc.ID, nil
}

// Open adopts an existing server document, e.g. one picked from history.
// Ready documents jump straight to completed; documents still being
// analysed resume polling with a fresh attempt budget.
func (o *Orchestrator) Open(form api.Form) Snapshot {
	doc := documentFromForm(form)

	o.mu.Lock()
	gen, _ := o.restartLocked()
	o.state = Snapshot{DocumentID: doc.ID, Document: &doc}
	switch form.Status {
	case api.StatusReady, api.StatusCompleted:
		o.state.Status = StatusCompleted
		o.state.Progress = progressDone
	case api.StatusError:
		o.state.Status = StatusError
		o.state.Error = MsgAnalysisFailed
	default:
		o.state.Status = StatusProcessing
		o.state.Progress = progressProcessing
		o.addLogLocked(logUploadComplete)
		o.schedulePollLocked(gen)
	}
	snap := o.state.clone()
	o.mu.Unlock()

	o.changes.Publish(snap)
	return snap
}

// Reset cancels polling and any in-flight request and returns to idle. No
// transition from the cancelled work is observable afterwards.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.restartLocked()
	o.state = Snapshot{Status: StatusIdle}
	snap := o.state.clone()
	o.mu.Unlock()
	o.changes.Publish(snap)
}

// Close releases the poll timer and in-flight requests without publishing.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.restartLocked()
}

// restartLocked invalidates outstanding work and returns the new generation
// with a fresh request context.
func (o *Orchestrator) restartLocked() (uint64, context.Context) {
	o.gen++
	o.poll.Stop()
	if o.cancel != nil {
		o.cancel()
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o.gen, o.ctx
}

func (o *Orchestrator) schedulePollLocked(gen uint64) {
	o.poll.Arm(o.cfg.Interval, func() { o.tick(gen) })
}

func (o *Orchestrator) tick(gen uint64) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.state.Attempts++
	if o.state.Attempts > o.cfg.MaxAttempts {
		o.state.Status = StatusError
		o.state.Error = MsgTimedOut
		snap := o.state.clone()
		o.mu.Unlock()
		log.Warn().Str("form", snap.DocumentID).Int("attempts", snap.Attempts-1).Msg("processing timed out")
		o.changes.Publish(snap)
		return
	}
	id := o.state.DocumentID
	ctx := o.ctx
	o.mu.Unlock()

	resp, err := o.svc.FormStatus(ctx, id)

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("form", id).Int("attempt", o.state.Attempts).Msg("status poll failed, retrying")
		o.schedulePollLocked(gen)
		o.mu.Unlock()
		return
	}

	if next := o.state.Progress + progressStep; next <= progressCeiling {
		o.state.Progress = next
	} else if o.state.Progress < progressCeiling {
		o.state.Progress = progressCeiling
	}
	if o.state.Document != nil {
		o.state.Document.Status = resp.Status
	}

	switch resp.Status {
	case api.StatusReady, api.StatusCompleted:
		o.state.Status = StatusCompleted
		o.state.Progress = progressDone
		o.addLogLocked(logReady)
	case api.StatusError:
		o.state.Status = StatusError
		o.state.Error = resp.Diagnostic()
		if o.state.Error == "" {
			o.state.Error = MsgAnalysisFailed
		}
	default:
		if o.state.Attempts%logEvery == 0 {
			o.addLogLocked(logStillProcessing)
		}
		o.schedulePollLocked(gen)
	}
	snap := o.state.clone()
	o.mu.Unlock()

	if snap.Status == StatusCompleted {
		log.Info().Str("form", id).Int("attempts", snap.Attempts).Msg("document ready")
	}
	o.changes.Publish(snap)
}

func (o *Orchestrator) addLogLocked(message string) {
	logs := make([]string, 0, MaxLogs)
	logs = append(logs, message)
	for _, entry := range o.state.Logs {
		if len(logs) == MaxLogs {
			break
		}
		logs = append(logs, entry)
	}
	o.state.Logs = logs
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Logs = append([]string(nil), s.Logs...)
	if s.Document != nil {
		doc := *s.Document
		out.Document = &doc
	}
	return out
}

func documentFromForm(form api.Form) Document {
	return Document{
		ID:        string(form.ID),
		Name:      form.Name,
		Status:    form.Status,
		CreatedAt: form.Created(),
		Size:      form.FileSize,
	}
}

// mergeCancel derives a context that is cancelled when either parent is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
