package tui

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
)

type jobKind string

type jobStatus string

const (
	jobKindSubmit   jobKind = "upload"
	jobKindStart    jobKind = "start"
	jobKindTurn     jobKind = "turn"
	jobKindGenerate jobKind = "generate"
	jobKindDownload jobKind = "download"
	jobKindHistory  jobKind = "history"
	jobKindPage     jobKind = "page"
	jobKindPrefetch jobKind = "prefetch"
)

const (
	jobStatusRunning   jobStatus = "running"
	jobStatusSucceeded jobStatus = "succeeded"
	jobStatusFailed    jobStatus = "failed"
)

const defaultJobTimeout = 2 * time.Minute

var jobTimeouts = map[jobKind]time.Duration{
	jobKindPrefetch: time.Minute,
	jobKindPage:     30 * time.Second,
	jobKindHistory:  30 * time.Second,
}

type jobSnapshot struct {
	ID          string
	Kind        jobKind
	Status      jobStatus
	Epoch       int64
	StartedAt   time.Time
	CompletedAt time.Time
	Err         string
	Duration    time.Duration
}

type jobSignalMsg struct {
	Snapshot jobSnapshot
}

type jobResultEnvelope struct {
	Snapshot jobSnapshot
	Payload  tea.Msg
}

type jobRunner func(context.Context) (tea.Msg, error)

// jobBus runs blocking workspace calls off the update loop. CancelAll
// aborts everything started so far and bumps the epoch, so results that
// arrive afterwards can be recognized as stale.
type jobBus struct {
	counter atomic.Int64

	mu     sync.Mutex
	epoch  int64
	ctx    context.Context
	cancel context.CancelFunc
}

func newJobBus() *jobBus {
	b := &jobBus{}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

func (b *jobBus) nextID(kind jobKind) string {
	return fmt.Sprintf("%s-%d", kind, b.counter.Add(1))
}

func (b *jobBus) current() (context.Context, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx, b.epoch
}

// Epoch identifies the jobs started since the last CancelAll.
func (b *jobBus) Epoch() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

func (b *jobBus) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel()
	b.epoch++
	b.ctx, b.cancel = context.WithCancel(context.Background())
}

func timeoutFor(kind jobKind) time.Duration {
	if d, ok := jobTimeouts[kind]; ok {
		return d
	}
	return defaultJobTimeout
}

func (b *jobBus) Start(kind jobKind, runner jobRunner) tea.Cmd {
	id := b.nextID(kind)
	parent, epoch := b.current()
	started := time.Now()
	startSnapshot := jobSnapshot{ID: id, Kind: kind, Status: jobStatusRunning, Epoch: epoch, StartedAt: started}
	startCmd := func() tea.Msg {
		return jobSignalMsg{Snapshot: startSnapshot}
	}

	runCmd := func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, timeoutFor(kind))
		defer cancel()
		payload, err := runner(ctx)

		snapshot := startSnapshot
		snapshot.CompletedAt = time.Now()
		snapshot.Duration = snapshot.CompletedAt.Sub(started)
		snapshot.Status = jobStatusSucceeded
		event := log.Debug()
		if err != nil {
			snapshot.Status = jobStatusFailed
			snapshot.Err = err.Error()
			event = log.Warn().Err(err)
		}
		event.Str("job", id).Int64("epoch", epoch).Str("status", string(snapshot.Status)).
			Dur("duration", snapshot.Duration).Msg("job finished")
		return jobResultEnvelope{Snapshot: snapshot, Payload: payload}
	}

	return tea.Sequence(startCmd, runCmd)
}

// jobStatusBadges lists the kinds still running, in start order.
func (m *model) jobStatusBadges() []string {
	if len(m.activeJobs) == 0 {
		return nil
	}
	running := make([]jobSnapshot, 0, len(m.activeJobs))
	for _, job := range m.activeJobs {
		running = append(running, job)
	}
	sort.Slice(running, func(i, j int) bool {
		return running[i].StartedAt.Before(running[j].StartedAt)
	})
	badges := make([]string, 0, len(running))
	for _, job := range running {
		badges = append(badges, fmt.Sprintf("%s…", job.Kind))
	}
	return badges
}
