package tui

import (
	"errors"
	"testing"
	"time"
)

func TestJobBusCancelAllAbortsRunningJobs(t *testing.T) {
	b := newJobBus()
	ctx, epoch := b.current()
	if epoch != 0 {
		t.Fatalf("fresh bus should start at epoch 0, got %d", epoch)
	}

	b.CancelAll()
	if ctx.Err() == nil {
		t.Fatal("jobs started before CancelAll should see a cancelled context")
	}
	next, epoch := b.current()
	if next.Err() != nil {
		t.Fatal("jobs started after CancelAll should run normally")
	}
	if epoch != 1 || b.Epoch() != 1 {
		t.Fatalf("expected epoch 1, got %d", epoch)
	}
}

func TestJobIDsAreUniquePerBus(t *testing.T) {
	b := newJobBus()
	first := b.nextID(jobKindPage)
	second := b.nextID(jobKindPage)
	if first == second || first != "page-1" {
		t.Fatalf("unexpected ids %q %q", first, second)
	}
}

func TestJobTimeoutsByKind(t *testing.T) {
	if got := timeoutFor(jobKindPrefetch); got != time.Minute {
		t.Fatalf("prefetch timeout %s", got)
	}
	if got := timeoutFor(jobKindTurn); got != defaultJobTimeout {
		t.Fatalf("turn timeout %s", got)
	}
}

func TestStaleJobResultsAreDropped(t *testing.T) {
	m := newTestModel(t)
	m.jobs.CancelAll()

	m.Update(jobSignalMsg{Snapshot: jobSnapshot{ID: "download-1", Kind: jobKindDownload, StartedAt: time.Now()}})
	m.Update(jobResultEnvelope{
		Snapshot: jobSnapshot{ID: "download-1", Kind: jobKindDownload, Epoch: 0},
		Payload:  downloadResultMsg{err: errors.New("context canceled")},
	})
	if m.errorMessage != "" {
		t.Fatalf("a cancelled job should not surface an error, got %q", m.errorMessage)
	}
	if len(m.activeJobs) != 0 {
		t.Fatalf("stale job should still clear its badge, got %v", m.activeJobs)
	}

	m.Update(jobResultEnvelope{
		Snapshot: jobSnapshot{ID: "download-2", Kind: jobKindDownload, Epoch: m.jobs.Epoch()},
		Payload:  downloadResultMsg{err: errors.New("disk full")},
	})
	if m.errorMessage != "Download failed: disk full" {
		t.Fatalf("current job error should surface, got %q", m.errorMessage)
	}
}
