// Package workspace wires the per-document components together: the upload
// orchestrator feeds the conversation, the conversation feeds the highlight
// synchronizer and the export trigger. It holds forward references only;
// the components never see each other.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/conversation"
	"github.com/csheth/formscout/internal/document"
	"github.com/csheth/formscout/internal/events"
	"github.com/csheth/formscout/internal/export"
	"github.com/csheth/formscout/internal/highlight"
	"github.com/csheth/formscout/internal/pages"
	"github.com/csheth/formscout/internal/schedule"
	"github.com/csheth/formscout/internal/upload"
)

var (
	// ErrDocumentNotReady is returned when a conversation is requested before
	// the document finished processing.
	ErrDocumentNotReady = errors.New("document is not ready yet")
	// ErrNoDocument is returned by page operations when nothing is open.
	ErrNoDocument = errors.New("no document open")
)

// Service is the full HTTP facade.
type Service interface {
	upload.Service
	conversation.Service
	highlight.Searcher
	export.Service
	pages.Fetcher
	ListForms(ctx context.Context) ([]api.Form, error)
}

// Config gathers the component settings.
type Config struct {
	Upload      upload.Config
	Highlight   highlight.Config
	CacheDir    string
	DownloadDir string
	Clock       schedule.Clock
}

// Workspace is everything the client knows about the open document.
type Workspace struct {
	Upload    *upload.Orchestrator
	Session   *conversation.Session
	Highlight *highlight.Synchronizer
	Export    *export.Trigger
	Pages     *pages.Cache

	svc         Service
	terms       *events.Topic[string]
	stopFollow  func()
	downloadDir string

	mu   sync.Mutex
	file *document.File
}

// Open builds a workspace on top of svc.
func Open(svc Service, cfg Config) (*Workspace, error) {
	if cfg.Clock != nil {
		if cfg.Upload.Clock == nil {
			cfg.Upload.Clock = cfg.Clock
		}
		if cfg.Highlight.Clock == nil {
			cfg.Highlight.Clock = cfg.Clock
		}
	}
	cache, err := pages.NewCache(cfg.CacheDir, svc)
	if err != nil {
		return nil, fmt.Errorf("page cache: %w", err)
	}

	terms := events.NewTopic[string]()
	exp := export.New(svc, cfg.Clock)
	w := &Workspace{
		Session:     conversation.New(svc, conversation.Config{Terms: terms, Exporter: exp}),
		Highlight:   highlight.New(svc, cfg.Highlight),
		Export:      exp,
		Pages:       cache,
		svc:         svc,
		terms:       terms,
		downloadDir: cfg.DownloadDir,
	}
	uploadCfg := cfg.Upload
	uploadCfg.OnAccepted = w.bindAccepted
	w.Upload = upload.New(svc, uploadCfg)
	w.stopFollow = w.Highlight.Follow(terms)
	return w, nil
}

// Terms is the highlight-term topic shared by the session and the viewer.
func (w *Workspace) Terms() *events.Topic[string] { return w.terms }

// Submit inspects a local file and uploads it. The other components are
// cleared first so nothing from the previous document survives.
func (w *Workspace) Submit(ctx context.Context, path string) (string, error) {
	file, err := document.Inspect(path, w.maxSize())
	if err != nil {
		return "", err
	}
	w.clearDocument()
	w.mu.Lock()
	w.file = &file
	w.mu.Unlock()

	id, err := w.Upload.Submit(ctx, file)
	if err != nil {
		w.mu.Lock()
		if w.file == &file {
			w.file = nil
		}
		w.mu.Unlock()
		return "", err
	}
	return id, nil
}

// bindAccepted points the viewer at a freshly accepted upload. It runs
// before polling starts, so a term published as soon as the document is
// ready always finds the synchronizer bound.
func (w *Workspace) bindAccepted(id string) {
	w.mu.Lock()
	file := w.file
	w.mu.Unlock()
	if file == nil {
		w.Highlight.Bind(id, 0, nil)
		return
	}
	w.Highlight.Bind(id, file.Pages, file.Box)
}

// Open adopts a form picked from history.
func (w *Workspace) Open(form api.Form) upload.Snapshot {
	w.clearDocument()
	w.Highlight.Bind(string(form.ID), 0, nil)
	return w.Upload.Open(form)
}

// StartConversation opens the dialogue for the ready document.
func (w *Workspace) StartConversation(ctx context.Context) error {
	snap := w.Upload.Snapshot()
	if !snap.Ready() {
		return ErrDocumentNotReady
	}
	return w.Session.Start(ctx, snap.DocumentID)
}

// Send submits one answer.
func (w *Workspace) Send(ctx context.Context, text string) error {
	return w.Session.SendTurn(ctx, text)
}

// GeneratePDF asks for the filled PDF of the current session.
func (w *Workspace) GeneratePDF(ctx context.Context) (export.Artifact, error) {
	snap := w.Session.Snapshot()
	if snap.SessionID == "" {
		return export.Artifact{}, conversation.ErrNoActiveSession
	}
	return w.Export.Generate(ctx, snap.DocumentID, snap.SessionID)
}

// Download saves the generated PDF into the download directory.
func (w *Workspace) Download(ctx context.Context) (string, error) {
	return w.Export.Download(ctx, w.downloadDir)
}

// History lists past forms, newest first.
func (w *Workspace) History(ctx context.Context) ([]api.Form, error) {
	forms, err := w.svc.ListForms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	sort.SliceStable(forms, func(i, j int) bool {
		return forms[i].Created().After(forms[j].Created())
	})
	return forms, nil
}

// PageImage returns the cached image of the page currently shown.
func (w *Workspace) PageImage(ctx context.Context) (string, int, error) {
	snap := w.Highlight.Snapshot()
	if snap.DocumentID == "" {
		return "", 0, ErrNoDocument
	}
	path, err := w.Pages.Page(ctx, snap.DocumentID, snap.Page)
	if err != nil {
		return "", snap.Page, err
	}
	return path, snap.Page, nil
}

// Prefetch warms the page cache for every known page of the document.
func (w *Workspace) Prefetch(ctx context.Context) error {
	snap := w.Highlight.Snapshot()
	if snap.DocumentID == "" {
		return ErrNoDocument
	}
	return w.Pages.Prefetch(ctx, snap.DocumentID, max(snap.PageCount, 1))
}

// File returns the local file behind the current document, if it was
// uploaded in this run.
func (w *Workspace) File() (document.File, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return document.File{}, false
	}
	return *w.file, true
}

// Reset returns every component to its initial state and drops the cached
// pages of the discarded document. No timer stays armed and no in-flight
// result can land afterwards.
func (w *Workspace) Reset() {
	docID := w.Upload.Snapshot().DocumentID
	w.clearDocument()
	w.Upload.Reset()
	if docID != "" {
		if err := w.Pages.Purge(docID); err != nil {
			log.Warn().Err(err).Str("form", docID).Msg("purge page cache")
		}
	}
	log.Debug().Msg("workspace reset")
}

// Close stops background work.
func (w *Workspace) Close() {
	w.stopFollow()
	w.Upload.Close()
	w.Highlight.Close()
	w.Session.Discard()
	w.Export.Reset()
}

func (w *Workspace) clearDocument() {
	w.Session.Discard()
	w.Export.Reset()
	w.Highlight.Reset()
	w.mu.Lock()
	w.file = nil
	w.mu.Unlock()
}

func (w *Workspace) maxSize() int64 {
	return w.Upload.MaxSize()
}
