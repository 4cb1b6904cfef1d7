package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/schedule"
)

type fakeService struct {
	mu      sync.Mutex
	urls    []string
	errs    []error
	calls   int
	gate    chan struct{}
	started chan struct{}
	fetched []string
	body    string
}

func (f *fakeService) GeneratePDF(ctx context.Context, formID, sessionID string) (*api.PDFResponse, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	u := "/files/" + formID + ".pdf"
	if idx < len(f.urls) {
		u = f.urls[idx]
	}
	return &api.PDFResponse{URL: u}, nil
}

func (f *fakeService) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func newTestTrigger(svc Service) *Trigger {
	return New(svc, schedule.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestGenerateRetainsArtifact(t *testing.T) {
	svc := &fakeService{urls: []string{"/files/filled_w9.pdf"}}
	trig := newTestTrigger(svc)

	art, err := trig.Generate(context.Background(), "f1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "/files/filled_w9.pdf", art.URL)
	assert.Equal(t, "s1", art.SessionID)
	assert.Equal(t, 2026, art.CreatedAt.Year())

	snap := trig.Snapshot()
	require.NotNil(t, snap.Artifact)
	assert.Equal(t, art, *snap.Artifact)
	assert.False(t, snap.InFlight)
	assert.False(t, snap.Retryable)
}

func TestFailureKeepsPreviousArtifactAndIsRetryable(t *testing.T) {
	svc := &fakeService{
		urls: []string{"/files/v1.pdf", "", "/files/v3.pdf"},
		errs: []error{nil, errors.New("render failed"), nil},
	}
	trig := newTestTrigger(svc)
	ctx := context.Background()

	_, err := trig.Generate(ctx, "f1", "s1")
	require.NoError(t, err)

	_, err = trig.Generate(ctx, "f1", "s1")
	require.Error(t, err)
	snap := trig.Snapshot()
	require.NotNil(t, snap.Artifact)
	assert.Equal(t, "/files/v1.pdf", snap.Artifact.URL)
	assert.Equal(t, MsgGenerateFailed, snap.LastError)
	assert.True(t, snap.Retryable)

	art, err := trig.Retry(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/files/v3.pdf", art.URL)
	snap = trig.Snapshot()
	assert.Empty(t, snap.LastError)
	assert.False(t, snap.Retryable)
}

func TestConcurrentGenerateRejected(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	trig := newTestTrigger(svc)

	done := make(chan error, 1)
	go func() {
		_, err := trig.Generate(context.Background(), "f1", "s1")
		done <- err
	}()
	<-svc.started
	assert.True(t, trig.Snapshot().InFlight)

	_, err := trig.Generate(context.Background(), "f1", "s1")
	assert.ErrorIs(t, err, ErrInFlight)

	close(svc.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, svc.calls)
}

func TestResetAbandonsRunningGeneration(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	trig := newTestTrigger(svc)

	done := make(chan error, 1)
	go func() {
		_, err := trig.Generate(context.Background(), "f1", "s1")
		done <- err
	}()
	<-svc.started
	trig.Reset()

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, Snapshot{}, trig.Snapshot())
}

func TestGenerateRequiresSession(t *testing.T) {
	trig := newTestTrigger(&fakeService{})
	_, err := trig.Generate(context.Background(), "f1", "")
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestDownloadWritesArtifact(t *testing.T) {
	svc := &fakeService{urls: []string{"http://files.example/out/filled.pdf?sig=abc"}, body: "%PDF-1.7 filled"}
	trig := newTestTrigger(svc)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "downloads")

	_, err := trig.Download(ctx, dir)
	require.ErrorIs(t, err, ErrNoArtifact)

	_, err = trig.Generate(ctx, "f1", "s1")
	require.NoError(t, err)
	path, err := trig.Download(ctx, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "filled.pdf"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 filled", string(data))
	assert.Equal(t, path, trig.Snapshot().Downloaded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestArtifactFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"/files/w9.pdf", "w9.pdf"},
		{"https://cdn.example/a/b/out.pdf?x=1", "out.pdf"},
		{"https://cdn.example/", "f7.pdf"},
		{"", "f7.pdf"},
	}
	for _, tt := range tests {
		got := Artifact{URL: tt.url, DocumentID: "f7"}.Filename()
		assert.Equal(t, tt.want, got, tt.url)
	}
}
