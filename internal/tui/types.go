package tui

import (
	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/export"
	"github.com/csheth/formscout/internal/viewer"
)

type stage int

const (
	stageUpload stage = iota
	stageConversation
	stageHistory
)

const heroTagline = "Fill in forms by talking them through with FormScout."

const (
	minViewportWidth          = 40
	viewportHorizontalPadding = 4
	minSplitWidth             = 80
	paneGap                   = 2
	transcriptPreviewLimit    = 240
	transcriptIndent          = 2
	historyNameLimit          = 48
)

type composerMode int

const (
	composerModePath composerMode = iota
	composerModeAnswer
)

const (
	composerPathPlaceholder   = "Path to a PDF or image form…"
	composerAnswerPlaceholder = "Type your answer…"
)

type keyHint struct {
	Key         string
	Description string
}

// pageKey identifies one rendering of a page at a given pane size.
type pageKey struct {
	documentID string
	page       int
	width      int
	height     int
}

// changeMsg tells the model that a workspace component published a new
// snapshot.
type changeMsg struct{}

type submitResultMsg struct {
	path       string
	documentID string
	err        error
}

type startResultMsg struct {
	err error
}

type turnResultMsg struct {
	err error
}

type generateResultMsg struct {
	artifact export.Artifact
	err      error
}

type downloadResultMsg struct {
	path string
	err  error
}

type historyResultMsg struct {
	forms []api.Form
	err   error
}

type pageResultMsg struct {
	key  pageKey
	grid *viewer.Grid
	err  error
}

type prefetchResultMsg struct {
	err error
}
