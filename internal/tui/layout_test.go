package tui

import (
	"strings"
	"testing"

	"github.com/csheth/formscout/internal/conversation"
)

func TestPageLayoutUpdate(t *testing.T) {
	cases := []struct {
		name             string
		width            int
		height           int
		transcriptWidth  int
		transcriptHeight int
		viewerWidth      int
	}{
		{name: "narrow hides viewer", width: 80, height: 24, transcriptWidth: 76, transcriptHeight: 13, viewerWidth: 0},
		{name: "wide splits", width: 200, height: 40, transcriptWidth: 116, transcriptHeight: 29, viewerWidth: 78},
		{name: "tiny clamps", width: 30, height: 10, transcriptWidth: 40, transcriptHeight: 8, viewerWidth: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			layout := newPageLayout()
			layout.Update(tc.width, tc.height)
			if layout.transcriptWidth != tc.transcriptWidth {
				t.Fatalf("transcript width mismatch: got %d want %d", layout.transcriptWidth, tc.transcriptWidth)
			}
			if layout.transcriptHeight != tc.transcriptHeight {
				t.Fatalf("transcript height mismatch: got %d want %d", layout.transcriptHeight, tc.transcriptHeight)
			}
			if layout.viewerWidth != tc.viewerWidth {
				t.Fatalf("viewer width mismatch: got %d want %d", layout.viewerWidth, tc.viewerWidth)
			}
			if layout.viewerHeight != layout.transcriptHeight {
				t.Fatalf("panes should share a height: %d vs %d", layout.viewerHeight, layout.transcriptHeight)
			}
		})
	}
}

func TestBuildTranscriptLabelsRoles(t *testing.T) {
	m := newTestModel(t)
	if !strings.Contains(m.buildTranscript(), "greet you") {
		t.Fatal("empty transcript should explain what happens next")
	}
	m.session = conversation.Snapshot{
		State: conversation.StateActive,
		Messages: []conversation.Message{
			{Role: conversation.RoleAssistant, Text: "What is your full name?"},
			{Role: conversation.RoleUser, Text: "Jane Doe"},
		},
	}
	out := m.buildTranscript()
	for _, want := range []string{"Assistant", "  What is your full name?", "You", "  Jane Doe"} {
		if !strings.Contains(out, want) {
			t.Fatalf("transcript missing %q:\n%s", want, out)
		}
	}

	m.session = conversation.Snapshot{State: conversation.StateFaulted, Error: conversation.MsgStartFailed}
	if !strings.Contains(m.buildTranscript(), conversation.MsgStartFailed) {
		t.Fatal("faulted session should show the start failure")
	}
}

func TestPreviewTextAndSizes(t *testing.T) {
	if got := previewText("  short  ", 10); got != "short" {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := previewText("abcdefghij", 4); got != "abcd…" {
		t.Fatalf("unexpected truncation %q", got)
	}
	sizes := map[int64]string{512: "512 B", 2048: "2.0 KB", 5 * 1024 * 1024: "5.0 MB"}
	for in, want := range sizes {
		if got := humanSize(in); got != want {
			t.Fatalf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}
