// Package conversation runs the turn-by-turn form filling dialogue for one
// ready document. Each assistant reply may name the field under discussion;
// that label is published as the highlight term.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/events"
	"github.com/csheth/formscout/internal/export"
)

// State is the session lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateActive        State = "active"
	StateCompleted     State = "completed"
	StateFaulted       State = "faulted"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User-visible messages.
const (
	MsgStartFailed  = "Failed to start the conversation. Please try resetting."
	MsgTurnFailed   = "Sorry, I encountered an error. Please try again."
	MsgExportFailed = "Form completed, but PDF generation failed."
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrNoActiveSession  = errors.New("no active conversation")
	ErrTurnInFlight     = errors.New("a reply is still pending")
	ErrSessionCompleted = errors.New("conversation already completed")
	ErrAlreadyStarted   = errors.New("conversation already started")
	ErrDiscarded        = errors.New("conversation discarded")
)

// Service is the part of the HTTP facade the session needs.
type Service interface {
	StartChat(ctx context.Context, formID string) (*api.StartChatResponse, error)
	SendMessage(ctx context.Context, sessionID, message string) (*api.MessageResponse, error)
}

// Exporter renders the filled form once the dialogue completes.
type Exporter interface {
	Generate(ctx context.Context, documentID, sessionID string) (export.Artifact, error)
}

// Message is one transcript entry.
type Message struct {
	Role Role
	Text string
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	State      State
	DocumentID string
	SessionID  string
	Messages   []Message
	FieldLabel string
	Completed  bool
	Busy       bool
	Exporting  bool
	Error      string
}

// Config wires the session to its collaborators. Both fields are optional.
type Config struct {
	Terms    *events.Topic[string]
	Exporter Exporter
}

// Session owns one conversation at a time.
type Session struct {
	svc     Service
	cfg     Config
	changes *events.Topic[Snapshot]

	mu        sync.Mutex
	state     State
	docID     string
	sessionID string
	messages  []Message
	field     string
	completed bool
	inFlight  bool
	exporting bool
	errMsg    string
	gen       uint64
	cancel    context.CancelFunc
}

// New returns an uninitialized session.
func New(svc Service, cfg Config) *Session {
	return &Session{
		svc:     svc,
		cfg:     cfg,
		changes: events.NewTopic[Snapshot](),
		state:   StateUninitialized,
	}
}

// Changes publishes a snapshot after every transition.
func (s *Session) Changes() *events.Topic[Snapshot] { return s.changes }

// Snapshot returns a copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Start opens the conversation for a ready document. A failure leaves the
// session faulted until Discard.
func (s *Session) Start(ctx context.Context, documentID string) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.docID = documentID
	ctx, cancel, gen := s.beginLocked(ctx)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snap)

	resp, err := s.svc.StartChat(ctx, documentID)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrDiscarded
	}
	s.cancel = nil
	if err != nil {
		s.state = StateFaulted
		s.errMsg = MsgStartFailed
		snap = s.snapshotLocked()
		s.mu.Unlock()
		log.Warn().Err(err).Str("form", documentID).Msg("failed to start conversation")
		s.changes.Publish(snap)
		return fmt.Errorf("start conversation: %w", err)
	}
	s.state = StateActive
	s.sessionID = resp.SessionID
	s.messages = []Message{{Role: RoleAssistant, Text: resp.Message}}
	if resp.Field != nil {
		s.field = resp.Field.Label
	}
	label := s.field
	snap = s.snapshotLocked()
	s.mu.Unlock()

	log.Info().Str("form", documentID).Str("session", resp.SessionID).Msg("conversation started")
	s.changes.Publish(snap)
	s.publishTerm(label)
	return nil
}

// SendTurn submits one user answer. The user message is appended before the
// request goes out; a failed request appends an apology and leaves the
// session active.
func (s *Session) SendTurn(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.state == StateCompleted:
		s.mu.Unlock()
		return ErrSessionCompleted
	case s.state != StateActive:
		s.mu.Unlock()
		return ErrNoActiveSession
	case s.inFlight:
		s.mu.Unlock()
		return ErrTurnInFlight
	}
	s.messages = append(s.messages, Message{Role: RoleUser, Text: text})
	s.inFlight = true
	sessionID, docID := s.sessionID, s.docID
	ctx, cancel, gen := s.beginLocked(ctx)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snap)

	resp, err := s.svc.SendMessage(ctx, sessionID, text)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		log.Debug().Str("session", sessionID).Msg("dropping reply for discarded conversation")
		return ErrDiscarded
	}
	s.inFlight = false
	s.cancel = nil
	if err != nil {
		s.messages = append(s.messages, Message{Role: RoleAssistant, Text: MsgTurnFailed})
		snap = s.snapshotLocked()
		s.mu.Unlock()
		log.Warn().Err(err).Str("session", sessionID).Msg("turn failed")
		s.changes.Publish(snap)
		return fmt.Errorf("send turn: %w", err)
	}

	s.messages = append(s.messages, Message{Role: RoleAssistant, Text: resp.Message})
	label := resp.FieldLabel
	if label != "" {
		s.field = label
	}
	finished := resp.Completed
	var exportCtx context.Context
	if finished {
		s.completed = true
		s.state = StateCompleted
		if s.cfg.Exporter != nil {
			s.exporting = true
			exportCtx, cancel, _ = s.beginLocked(context.WithoutCancel(ctx))
		}
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snap)
	s.publishTerm(label)

	if finished {
		log.Info().Str("session", sessionID).Msg("conversation completed")
	}
	if exportCtx != nil {
		s.export(exportCtx, cancel, gen, docID, sessionID)
	}
	return nil
}

// Discard drops the session. Replies still in flight are ignored.
func (s *Session) Discard() {
	s.mu.Lock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateUninitialized
	s.docID = ""
	s.sessionID = ""
	s.messages = nil
	s.field = ""
	s.completed = false
	s.inFlight = false
	s.exporting = false
	s.errMsg = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snap)
}

func (s *Session) export(ctx context.Context, cancel context.CancelFunc, gen uint64, docID, sessionID string) {
	_, err := s.cfg.Exporter.Generate(ctx, docID, sessionID)
	cancel()
	if errors.Is(err, export.ErrInFlight) {
		err = nil
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	s.exporting = false
	if err != nil {
		s.messages = append(s.messages, Message{Role: RoleAssistant, Text: MsgExportFailed})
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("automatic pdf generation failed")
	}
	s.changes.Publish(snap)
}

func (s *Session) beginLocked(ctx context.Context) (context.Context, context.CancelFunc, uint64) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return ctx, cancel, s.gen
}

func (s *Session) publishTerm(label string) {
	if label != "" && s.cfg.Terms != nil {
		s.cfg.Terms.Publish(label)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:      s.state,
		DocumentID: s.docID,
		SessionID:  s.sessionID,
		Messages:   append([]Message(nil), s.messages...),
		FieldLabel: s.field,
		Completed:  s.completed,
		Busy:       s.inFlight || s.state == StateStarting,
		Exporting:  s.exporting,
		Error:      s.errMsg,
	}
}
