// Package apitest runs an in-process stand-in for the form service. It
// speaks the same routes as the real backend with a scripted interview, so
// the client packages and the binary can be exercised end to end.
package apitest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Question is one step of the scripted interview.
type Question struct {
	Label  string
	Prompt string
	Page   int
	Rect   []float64
}

// DefaultQuestions is a short W-9 style interview.
var DefaultQuestions = []Question{
	{Label: "Full name", Prompt: "Hi! Let's fill in your form. What is your full name?", Page: 1, Rect: []float64{0.1, 0.1, 0.6, 0.15}},
	{Label: "Date of birth", Prompt: "Thanks. What is your date of birth?", Page: 1, Rect: []float64{0.1, 0.3, 0.4, 0.35}},
	{Label: "Signature", Prompt: "Almost done. Please type your signature.", Page: 2, Rect: []float64{0.5, 0.8, 0.9, 0.9}},
}

// Options tunes the fake service.
type Options struct {
	// ReadyAfter is the number of status polls answered with "processing"
	// before the form turns ready.
	ReadyAfter int
	Questions  []Question
	// Pages is the page count reported through the page route.
	Pages int
	// Forms seeds the history list.
	Forms []Form
}

// Form is a stored document.
type Form struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	FileSize  int64  `json:"file_size"`

	polls int
}

type session struct {
	formID string
	step   int
	done   bool
}

// Server is the fake service.
type Server struct {
	*httptest.Server

	opts Options

	mu       sync.Mutex
	forms    map[string]*Form
	order    []string
	sessions map[string]*session
	searches []string
	seq      int
	page     []byte
}

// NewServer starts the fake service. Callers Close it.
func NewServer(opts Options) *Server {
	if len(opts.Questions) == 0 {
		opts.Questions = DefaultQuestions
	}
	if opts.Pages <= 0 {
		opts.Pages = 2
	}
	s := &Server{
		opts:     opts,
		forms:    map[string]*Form{},
		sessions: map[string]*session{},
		page:     renderPage(),
	}
	for i := range opts.Forms {
		f := opts.Forms[i]
		s.forms[f.ID] = &f
		s.order = append(s.order, f.ID)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /forms", s.handleUpload)
	mux.HandleFunc("GET /forms", s.handleList)
	mux.HandleFunc("GET /forms/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /forms/{id}/pages/{page}", s.handlePage)
	mux.HandleFunc("GET /forms/{id}/search", s.handleSearch)
	mux.HandleFunc("POST /forms/{id}/pdf", s.handlePDF)
	mux.HandleFunc("POST /chat/start", s.handleStart)
	mux.HandleFunc("POST /chat/message", s.handleMessage)
	mux.HandleFunc("GET /files/{name}", s.handleFile)
	s.Server = httptest.NewServer(mux)
	return s
}

// Searches returns the search terms received so far.
func (s *Server) Searches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searches...)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()
	size, _ := io.Copy(io.Discard, file)

	s.mu.Lock()
	s.seq++
	f := &Form{
		ID:        "form-" + strconv.Itoa(s.seq),
		Name:      header.Filename,
		Status:    "processing",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		FileSize:  size,
	}
	s.forms[f.ID] = f
	s.order = append(s.order, f.ID)
	out := *f
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"message": "uploaded", "form": out})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]Form, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.forms[s.order[i]])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.forms[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Form not found")
		return
	}
	if f.Status == "processing" {
		f.polls++
		if f.polls > s.opts.ReadyAfter {
			f.Status = "ready"
		}
	}
	status := f.Status
	s.mu.Unlock()

	body := map[string]any{"status": status}
	if status == "error" {
		body["ocr_data"] = map[string]string{"error": "unreadable scan"}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	s.mu.Lock()
	_, ok := s.forms[r.PathValue("id")]
	s.mu.Unlock()
	if !ok || err != nil || page < 1 || page > s.opts.Pages {
		writeDetail(w, http.StatusNotFound, "Page not found")
		return
	}
	etag := `"page-` + strconv.Itoa(page) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Etag", etag)
	_, _ = w.Write(s.page)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	s.mu.Lock()
	s.searches = append(s.searches, q)
	s.mu.Unlock()

	results := []map[string]any{}
	for _, question := range s.opts.Questions {
		if strings.EqualFold(question.Label, q) && question.Rect != nil {
			results = append(results, map[string]any{
				"page": question.Page,
				"rect": question.Rect,
				"text": question.Label,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FormID string `json:"form_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	f, ok := s.forms[body.FormID]
	if !ok || (f.Status != "ready" && f.Status != "completed") {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Form not found or not ready")
		return
	}
	id := fmt.Sprintf("sess-%s-%d", f.ID, len(s.sessions)+1)
	s.sessions[id] = &session{formID: f.ID}
	s.mu.Unlock()

	first := s.opts.Questions[0]
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"message":    first.Prompt,
		"field":      map[string]string{"label": first.Label},
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[body.SessionID]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	sess.step++
	step := sess.step
	if step >= len(s.opts.Questions) {
		sess.done = true
		if f, ok := s.forms[sess.formID]; ok {
			f.Status = "completed"
		}
	}
	s.mu.Unlock()

	if step >= len(s.opts.Questions) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":   "All fields are filled in. Generating your PDF.",
			"completed": true,
		})
		return
	}
	next := s.opts.Questions[step]
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     next.Prompt,
		"field_label": next.Label,
		"completed":   false,
	})
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[body.SessionID]
	s.mu.Unlock()
	if !ok || sess.formID != id {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": "/files/" + id + "_filled.pdf"})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	_, _ = w.Write([]byte("%PDF-1.4\n% filled " + r.PathValue("name") + "\n%%EOF\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// renderPage draws a blank page with two field lines.
func renderPage() []byte {
	img := image.NewGray(image.Rect(0, 0, 60, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 60; x++ {
			img.SetGray(x, y, color.Gray{Y: 0xf0})
		}
	}
	for _, y := range []int{12, 26} {
		for x := 6; x < 36; x++ {
			img.SetGray(x, y, color.Gray{Y: 0x20})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
