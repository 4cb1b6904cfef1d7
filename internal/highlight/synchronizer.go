// Package highlight keeps the document viewer pointed at whatever the
// conversation is currently talking about. A highlight term is debounced,
// searched on the server, and the resulting rectangles are normalized onto
// the page.
package highlight

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/events"
	"github.com/csheth/formscout/internal/geometry"
	"github.com/csheth/formscout/internal/schedule"
)

// DefaultDebounce is the quiet period before a term is searched.
const DefaultDebounce = 300 * time.Millisecond

// Searcher finds text occurrences in a form.
type Searcher interface {
	Search(ctx context.Context, id, q string) ([]api.SearchResult, error)
}

// PageBoxes returns the geometry of a 1-based page when it is known.
type PageBoxes func(page int) (geometry.PageBox, bool)

// Match is one highlighted occurrence.
type Match struct {
	Page int
	Rect geometry.Rect
	Text string
}

// Snapshot is a read-only copy of the viewer state.
type Snapshot struct {
	DocumentID string
	Term       string
	Matches    []Match
	Page       int
	PageCount  int
	Pending    bool
	Searching  bool
	LastError  string
}

// OnPage returns the matches that belong to page.
func (s Snapshot) OnPage(page int) []Match {
	var out []Match
	for _, m := range s.Matches {
		if m.Page == page {
			out = append(out, m)
		}
	}
	return out
}

// Config tunes the synchronizer.
type Config struct {
	Debounce   time.Duration
	Normalizer geometry.Normalizer
	Clock      schedule.Clock
}

// Synchronizer owns the highlight query and page navigation for one document.
type Synchronizer struct {
	svc      Searcher
	cfg      Config
	debounce *schedule.Slot
	changes  *events.Topic[Snapshot]

	mu        sync.Mutex
	docID     string
	boxes     PageBoxes
	pageCount int
	page      int
	term      string
	matches   []Match
	searching bool
	lastErr   string
	gen       uint64
	cancel    context.CancelFunc
}

// New returns an unbound synchronizer.
func New(svc Searcher, cfg Config) *Synchronizer {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.System
	}
	if cfg.Normalizer.Mode == "" {
		cfg.Normalizer.Mode = geometry.ModeAuto
	}
	return &Synchronizer{
		svc:      svc,
		cfg:      cfg,
		debounce: schedule.NewSlot(cfg.Clock),
		changes:  events.NewTopic[Snapshot](),
		page:     1,
	}
}

// Changes publishes a snapshot after every visible change.
func (s *Synchronizer) Changes() *events.Topic[Snapshot] { return s.changes }

// Bind points the synchronizer at a document. pageCount may be zero when
// unknown; boxes may be nil.
func (s *Synchronizer) Bind(documentID string, pageCount int, boxes PageBoxes) {
	s.mu.Lock()
	s.supersedeLocked()
	s.docID = documentID
	s.pageCount = pageCount
	s.boxes = boxes
	s.page = 1
	s.term = ""
	s.matches = nil
	s.lastErr = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snap)
}

// SetTerm replaces the highlight term. An empty term clears the matches at
// once; any other term is searched after the debounce delay, cancelling
// whatever was pending or in flight.
func (s *Synchronizer) SetTerm(term string) {
	term = strings.TrimSpace(term)

	s.mu.Lock()
	gen := s.supersedeLocked()
	s.term = term
	if term == "" {
		s.matches = nil
		s.lastErr = ""
	} else if s.docID != "" {
		s.debounce.Arm(s.cfg.Debounce, func() { s.run(gen) })
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snap)
}

// Follow subscribes to a topic of highlight terms.
func (s *Synchronizer) Follow(terms *events.Topic[string]) (cancel func()) {
	return terms.Subscribe(s.SetTerm)
}

// SetPage shows a 1-based page, clamped to the known page range.
func (s *Synchronizer) SetPage(page int) bool {
	s.mu.Lock()
	if page < 1 {
		page = 1
	}
	if s.pageCount > 0 && page > s.pageCount {
		page = s.pageCount
	}
	changed := page != s.page
	s.page = page
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.changes.Publish(snap)
	}
	return changed
}

// NextPage advances one page.
func (s *Synchronizer) NextPage() bool { return s.SetPage(s.Snapshot().Page + 1) }

// PrevPage goes back one page.
func (s *Synchronizer) PrevPage() bool { return s.SetPage(s.Snapshot().Page - 1) }

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// MatchesOnPage returns the matches for the page being shown.
func (s *Synchronizer) MatchesOnPage() []Match {
	snap := s.Snapshot()
	return snap.OnPage(snap.Page)
}

// Reset drops the document binding, the term and any pending or in-flight
// query.
func (s *Synchronizer) Reset() {
	s.Bind("", 0, nil)
}

// Close cancels pending work without publishing.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
}

func (s *Synchronizer) supersedeLocked() uint64 {
	s.gen++
	s.debounce.Stop()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.searching = false
	return s.gen
}

func (s *Synchronizer) run(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.searching = true
	docID, term := s.docID, s.term
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.changes.Publish(snap)

	results, err := s.svc.Search(ctx, docID, term)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		log.Debug().Str("term", term).Msg("discarding superseded highlight result")
		return
	}
	s.cancel = nil
	s.searching = false
	if err != nil {
		s.lastErr = err.Error()
		snap = s.snapshotLocked()
		s.mu.Unlock()
		log.Warn().Err(err).Str("form", docID).Str("term", term).Msg("highlight search failed")
		s.changes.Publish(snap)
		return
	}
	s.lastErr = ""
	s.matches = s.normalizeLocked(results)
	if len(s.matches) > 0 && s.matches[0].Page != s.page {
		s.page = s.matches[0].Page
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	log.Debug().Str("term", term).Int("matches", len(snap.Matches)).Msg("highlight resolved")
	s.changes.Publish(snap)
}

func (s *Synchronizer) normalizeLocked(results []api.SearchResult) []Match {
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Page < 1 || (s.pageCount > 0 && r.Page > s.pageCount) {
			log.Debug().Int("page", r.Page).Msg("dropping match outside the document")
			continue
		}
		var box *geometry.PageBox
		if s.boxes != nil {
			if b, ok := s.boxes(r.Page); ok {
				box = &b
			}
		}
		rect, err := s.cfg.Normalizer.Resolve(r.Rect, box)
		if err != nil {
			log.Debug().Err(err).Int("page", r.Page).Floats64("rect", r.Rect).Msg("dropping unusable match")
			continue
		}
		matches = append(matches, Match{Page: r.Page, Rect: rect, Text: r.Text})
	}
	return matches
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		DocumentID: s.docID,
		Term:       s.term,
		Matches:    append([]Match(nil), s.matches...),
		Page:       s.page,
		PageCount:  s.pageCount,
		Pending:    s.debounce.Armed(),
		Searching:  s.searching,
		LastError:  s.lastErr,
	}
}
