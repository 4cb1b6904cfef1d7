package workspace

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/api/apitest"
	"github.com/csheth/formscout/internal/conversation"
	"github.com/csheth/formscout/internal/document"
	"github.com/csheth/formscout/internal/highlight"
	"github.com/csheth/formscout/internal/schedule"
	"github.com/csheth/formscout/internal/upload"
)

var onePageQuestions = []apitest.Question{
	{Label: "Full name", Prompt: "What is your full name?", Page: 1, Rect: []float64{0.1, 0.1, 0.6, 0.15}},
	{Label: "Date of birth", Prompt: "What is your date of birth?", Page: 1, Rect: []float64{10, 60, 40, 70}},
}

func newTestWorkspace(t *testing.T, opts apitest.Options) (*Workspace, *schedule.FakeClock, *apitest.Server) {
	t.Helper()
	srv := apitest.NewServer(opts)
	t.Cleanup(srv.Close)
	client, err := api.NewClient(srv.URL, api.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	clock := schedule.NewFakeClock(time.Unix(0, 0))
	w, err := Open(client, Config{
		Clock:       clock,
		CacheDir:    t.TempDir(),
		DownloadDir: filepath.Join(t.TempDir(), "out"),
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w, clock, srv
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 100, 200))))
	require.NoError(t, f.Close())
	return path
}

func TestFullSessionFlow(t *testing.T) {
	w, clock, srv := newTestWorkspace(t, apitest.Options{ReadyAfter: 1, Questions: onePageQuestions})
	ctx := context.Background()

	require.ErrorIs(t, w.StartConversation(ctx), ErrDocumentNotReady)

	id, err := w.Submit(ctx, writePNG(t))
	require.NoError(t, err)
	assert.Equal(t, "form-1", id)
	require.ErrorIs(t, w.StartConversation(ctx), ErrDocumentNotReady)

	clock.Advance(2 * upload.DefaultInterval)
	require.True(t, w.Upload.Snapshot().Ready())

	require.NoError(t, w.StartConversation(ctx))
	assert.Equal(t, "Full name", w.Highlight.Snapshot().Term)
	clock.Advance(highlight.DefaultDebounce)
	matches := w.Highlight.MatchesOnPage()
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.1, matches[0].Rect.X0, 1e-9)

	require.NoError(t, w.Send(ctx, "Jane Doe"))
	clock.Advance(highlight.DefaultDebounce)
	snap := w.Highlight.Snapshot()
	assert.Equal(t, "Date of birth", snap.Term)
	require.Len(t, snap.Matches, 1)
	// Pixel rect on the 100x200 scan.
	assert.InDelta(t, 0.1, snap.Matches[0].Rect.X0, 1e-9)
	assert.InDelta(t, 0.3, snap.Matches[0].Rect.Y0, 1e-9)
	assert.Equal(t, []string{"Full name", "Date of birth"}, srv.Searches())

	require.NoError(t, w.Send(ctx, "1990-01-01"))
	conv := w.Session.Snapshot()
	assert.Equal(t, conversation.StateCompleted, conv.State)
	exp := w.Export.Snapshot()
	require.NotNil(t, exp.Artifact)
	assert.Equal(t, "/files/form-1_filled.pdf", exp.Artifact.URL)

	path, err := w.Download(ctx)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))

	img, page, err := w.PageImage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.FileExists(t, img)

	file, ok := w.File()
	require.True(t, ok)
	assert.Equal(t, "scan.png", file.Name)
}

func TestViewerBoundBeforeDocumentTurnsReady(t *testing.T) {
	w, _, _ := newTestWorkspace(t, apitest.Options{Questions: onePageQuestions})

	var boundAtProcessing string
	w.Upload.Changes().Subscribe(func(s upload.Snapshot) {
		if s.Status != upload.StatusProcessing {
			return
		}
		boundAtProcessing = w.Highlight.Snapshot().DocumentID
		// A fast server can be ready and greeting before Submit returns.
		w.Terms().Publish("Full name")
	})

	id, err := w.Submit(context.Background(), writePNG(t))
	require.NoError(t, err)
	assert.Equal(t, id, boundAtProcessing)

	snap := w.Highlight.Snapshot()
	assert.Equal(t, id, snap.DocumentID)
	assert.Equal(t, 1, snap.PageCount)
	assert.Equal(t, "Full name", snap.Term, "the first term must survive the upload returning")
	_, ok := w.File()
	assert.True(t, ok)
}

func TestResetClearsEverything(t *testing.T) {
	w, clock, _ := newTestWorkspace(t, apitest.Options{ReadyAfter: 0, Questions: onePageQuestions})
	ctx := context.Background()

	id, err := w.Submit(ctx, writePNG(t))
	require.NoError(t, err)
	clock.Advance(upload.DefaultInterval)
	require.NoError(t, w.StartConversation(ctx))
	require.Equal(t, 1, clock.Pending(), "debounce should be armed")
	_, _, err = w.PageImage(ctx)
	require.NoError(t, err)
	cached := filepath.Join(w.Pages.Dir(), id)
	require.DirExists(t, cached)

	w.Reset()
	assert.NoDirExists(t, cached, "reset drops the discarded document's pages")
	assert.Zero(t, clock.Pending())
	assert.Equal(t, upload.Snapshot{Status: upload.StatusIdle}, w.Upload.Snapshot())
	assert.Equal(t, conversation.StateUninitialized, w.Session.Snapshot().State)
	assert.Equal(t, highlight.Snapshot{Page: 1}, w.Highlight.Snapshot())
	assert.Nil(t, w.Export.Snapshot().Artifact)
	_, ok := w.File()
	assert.False(t, ok)

	w.Terms().Publish("Full name")
	assert.Zero(t, clock.Pending(), "an unbound viewer does not search")
	_, _, err = w.PageImage(ctx)
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestHistoryAndOpen(t *testing.T) {
	w, clock, _ := newTestWorkspace(t, apitest.Options{
		Forms: []apitest.Form{
			{ID: "new", Name: "new.pdf", Status: "processing", CreatedAt: "2026-03-01T10:00:00Z"},
			{ID: "old", Name: "old.pdf", Status: "ready", CreatedAt: "2025-01-01T10:00:00Z"},
		},
	})
	ctx := context.Background()

	forms, err := w.History(ctx)
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, api.FormID("new"), forms[0].ID)

	snap := w.Open(forms[1])
	assert.Equal(t, upload.StatusCompleted, snap.Status)
	require.NoError(t, w.StartConversation(ctx))

	snap = w.Open(forms[0])
	assert.Equal(t, upload.StatusProcessing, snap.Status)
	assert.Equal(t, conversation.StateUninitialized, w.Session.Snapshot().State)
	require.ErrorIs(t, w.StartConversation(ctx), ErrDocumentNotReady)

	clock.Advance(upload.DefaultInterval)
	assert.True(t, w.Upload.Snapshot().Ready())
	require.NoError(t, w.StartConversation(ctx))
	assert.Equal(t, "new", w.Session.Snapshot().DocumentID)
}

func TestSubmitRejectsUnsupportedFile(t *testing.T) {
	w, clock, _ := newTestWorkspace(t, apitest.Options{})
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text"), 0o644))

	_, err := w.Submit(context.Background(), path)
	require.ErrorIs(t, err, document.ErrUnsupportedType)
	assert.Equal(t, upload.StatusIdle, w.Upload.Snapshot().Status)
	assert.Zero(t, clock.Pending())
}

func TestGeneratePDFNeedsSession(t *testing.T) {
	w, _, _ := newTestWorkspace(t, apitest.Options{})
	_, err := w.GeneratePDF(context.Background())
	assert.ErrorIs(t, err, conversation.ErrNoActiveSession)
}

func TestPrefetchWarmsPageCache(t *testing.T) {
	w, _, _ := newTestWorkspace(t, apitest.Options{
		Forms: []apitest.Form{{ID: "f9", Name: "w9.pdf", Status: "ready"}},
	})
	ctx := context.Background()
	require.ErrorIs(t, w.Prefetch(ctx), ErrNoDocument)

	w.Open(api.Form{ID: "f9", Name: "w9.pdf", Status: "ready"})
	require.NoError(t, w.Prefetch(ctx))

	entries, err := os.ReadDir(filepath.Join(w.Pages.Dir(), "f9"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
