package tui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/api"
	"github.com/csheth/formscout/internal/conversation"
	"github.com/csheth/formscout/internal/export"
	"github.com/csheth/formscout/internal/highlight"
	"github.com/csheth/formscout/internal/upload"
	"github.com/csheth/formscout/internal/viewer"
	"github.com/csheth/formscout/internal/workspace"
)

// Config wires runtime options into the TUI program.
type Config struct {
	Workspace *workspace.Workspace
	// File is uploaded as soon as the program starts.
	File string
}

// New returns a tea.Model ready to be mounted into a Program.
func New(config Config) tea.Model {
	composer := textinput.New()
	composer.Placeholder = composerPathPlaceholder
	composer.Focus()
	composer.CharLimit = 1024
	composer.Width = 70

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	vp := viewport.New(80, 12)
	vp.MouseWheelEnabled = true

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	m := &model{
		config:      config,
		ws:          config.Workspace,
		stage:       stageUpload,
		layout:      newPageLayout(),
		jobs:        newJobBus(),
		composer:    composer,
		spinner:     spin,
		transcript:  vp,
		progress:    bar,
		upload:      upload.Snapshot{Status: upload.StatusIdle},
		highlight:   highlight.Snapshot{Page: 1},
		activeJobs:  map[string]jobSnapshot{},
		changes:     make(chan struct{}, 1),
		infoMessage: "Enter the path of a PDF or image form to begin.",
	}
	if m.ws != nil {
		m.subscribe()
		m.pullSnapshots()
	}
	return m
}

type model struct {
	config Config
	ws     *workspace.Workspace
	stage  stage
	// returnStage is restored when the history list is closed.
	returnStage stage
	layout      pageLayout
	jobs        *jobBus

	composer        textinput.Model
	composerMode    composerMode
	spinner         spinner.Model
	spinning        bool
	progress        progress.Model
	transcript      viewport.Model
	transcriptCount int
	lastAnswer      string

	upload    upload.Snapshot
	session   conversation.Snapshot
	highlight highlight.Snapshot
	export    export.Snapshot

	history       []api.Form
	historyCursor int

	page        *viewer.Grid
	pageKey     pageKey
	pageLoading bool
	pageErr     string

	startPending bool
	activeJobs   map[string]jobSnapshot

	infoMessage  string
	errorMessage string
	helpVisible  bool

	changes     chan struct{}
	unsubscribe []func()
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.ws != nil {
		cmds = append(cmds, waitForChange(m.changes))
		if path := strings.TrimSpace(m.config.File); path != "" {
			cmds = append(cmds, m.submit(path))
		}
	}
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.syncTranscript()
		return m, cmd
	case tea.WindowSizeMsg:
		m.layout.Update(msg.Width, msg.Height)
		m.transcript.Width = m.layout.transcriptWidth
		m.transcript.Height = m.layout.transcriptHeight
		m.composer.Width = max(20, m.layout.transcriptWidth-4)
		m.progress.Width = min(60, m.layout.transcriptWidth)
		m.syncTranscript()
		return m, m.ensurePage()
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		if m.stage == stageConversation {
			var cmd tea.Cmd
			m.transcript, cmd = m.transcript.Update(msg)
			return m, cmd
		}
		return m, nil
	case changeMsg:
		return m, tea.Batch(m.refresh(), waitForChange(m.changes))
	case jobSignalMsg:
		m.activeJobs[msg.Snapshot.ID] = msg.Snapshot
		return m, m.spin()
	case jobResultEnvelope:
		delete(m.activeJobs, msg.Snapshot.ID)
		if msg.Payload == nil || msg.Snapshot.Epoch != m.jobs.Epoch() {
			return m, nil
		}
		return m.Update(msg.Payload)
	case submitResultMsg:
		cmd := m.refresh()
		if msg.err != nil {
			if errors.Is(msg.err, upload.ErrSuperseded) {
				return m, cmd
			}
			if m.upload.Error == "" {
				m.errorMessage = msg.err.Error()
			}
			m.infoMessage = "Fix the path or pick another file, then press Enter."
			return m, cmd
		}
		m.errorMessage = ""
		m.infoMessage = fmt.Sprintf("Uploaded %s. Analyzing document…", filepath.Base(msg.path))
		return m, cmd
	case startResultMsg:
		m.startPending = false
		cmd := m.refresh()
		switch {
		case msg.err == nil:
			m.errorMessage = ""
			m.infoMessage = "Answer the assistant. The field it asks about is highlighted on the page."
		case errors.Is(msg.err, conversation.ErrDiscarded):
		case m.session.State == conversation.StateFaulted:
			m.infoMessage = "Press Ctrl+R to reset and try again."
		default:
			m.errorMessage = msg.err.Error()
		}
		return m, cmd
	case turnResultMsg:
		cmd := m.refresh()
		m.handleTurnResult(msg.err)
		return m, cmd
	case generateResultMsg:
		cmd := m.refresh()
		switch {
		case msg.err == nil:
			m.errorMessage = ""
			m.infoMessage = fmt.Sprintf("PDF ready: %s. Press Ctrl+D to download.", msg.artifact.Filename())
		case errors.Is(msg.err, export.ErrInFlight):
			m.infoMessage = "PDF generation is already running."
		case errors.Is(msg.err, export.ErrSuperseded):
		default:
			m.errorMessage = export.MsgGenerateFailed
			m.infoMessage = "Press Ctrl+G to retry."
		}
		return m, cmd
	case downloadResultMsg:
		cmd := m.refresh()
		switch {
		case msg.err == nil:
			m.errorMessage = ""
			m.infoMessage = "Saved " + msg.path
		case errors.Is(msg.err, export.ErrNoArtifact):
			m.infoMessage = "Generate the PDF first with Ctrl+G."
		default:
			m.errorMessage = fmt.Sprintf("Download failed: %v", msg.err)
		}
		return m, cmd
	case historyResultMsg:
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("Could not load history: %v", msg.err)
			return m, nil
		}
		m.history = msg.forms
		m.historyCursor = 0
		if m.stage != stageHistory {
			m.returnStage = m.stage
		}
		m.stage = stageHistory
		m.composer.Blur()
		m.errorMessage = ""
		if len(m.history) == 0 {
			m.infoMessage = "No forms yet. Esc goes back."
		} else {
			m.infoMessage = "↑/↓ to choose, Enter to open, Esc to go back."
		}
		return m, nil
	case pageResultMsg:
		if msg.key != m.pageKey {
			return m, nil
		}
		m.pageLoading = false
		if msg.err != nil {
			m.page = nil
			m.pageErr = msg.err.Error()
			return m, nil
		}
		m.page = msg.grid
		m.pageErr = ""
		return m, nil
	case prefetchResultMsg:
		return m, nil
	}
	return m, nil
}

func (m *model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyCtrlC:
		m.release()
		return m, tea.Quit
	case tea.KeyF1:
		m.helpVisible = !m.helpVisible
		return m, nil
	case tea.KeyCtrlR:
		return m, m.reset()
	case tea.KeyCtrlO:
		return m, m.openHistory()
	}

	switch m.stage {
	case stageHistory:
		return m.handleHistoryKey(key)
	case stageConversation:
		switch key.Type {
		case tea.KeyCtrlG:
			return m, m.generate()
		case tea.KeyCtrlD:
			return m, m.download()
		case tea.KeyPgDown:
			return m, m.turnPage(1)
		case tea.KeyPgUp:
			return m, m.turnPage(-1)
		case tea.KeyUp:
			m.transcript.LineUp(1)
			return m, nil
		case tea.KeyDown:
			m.transcript.LineDown(1)
			return m, nil
		}
	}
	return m.processComposerKey(key)
}

func (m *model) processComposerKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		if m.composer.Value() != "" {
			m.composer.SetValue("")
			return m, nil
		}
		m.helpVisible = false
		return m, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.composer.Value())
		if value == "" {
			if m.composerMode == composerModePath {
				m.infoMessage = "Type the path of a PDF, PNG or JPEG file first."
			} else {
				m.infoMessage = "Type an answer first."
			}
			return m, nil
		}
		if m.composerMode == composerModePath {
			m.composer.SetValue("")
			return m, m.submit(value)
		}
		return m, m.sendAnswer(value)
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(key)
	return m, cmd
}

func (m *model) handleHistoryKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		m.stage = m.returnStage
		m.composer.Focus()
		m.infoMessage = ""
		return m, nil
	case tea.KeyUp:
		if m.historyCursor > 0 {
			m.historyCursor--
		}
		return m, nil
	case tea.KeyDown:
		if m.historyCursor < len(m.history)-1 {
			m.historyCursor++
		}
		return m, nil
	case tea.KeyEnter:
		if len(m.history) == 0 || m.ws == nil {
			return m, nil
		}
		form := m.history[m.historyCursor]
		m.jobs.CancelAll()
		m.ws.Open(form)
		m.startPending = false
		m.enterUpload()
		m.errorMessage = ""
		m.infoMessage = fmt.Sprintf("Opened %s.", form.Name)
		return m, m.refresh()
	}
	return m, nil
}

func (m *model) submit(path string) tea.Cmd {
	if m.ws == nil {
		return nil
	}
	path = expandHome(path)
	m.errorMessage = ""
	m.infoMessage = fmt.Sprintf("Uploading %s…", filepath.Base(path))
	return tea.Batch(m.jobs.Start(jobKindSubmit, submitJob(m.ws, path)), m.spin())
}

func (m *model) sendAnswer(text string) tea.Cmd {
	switch {
	case m.ws == nil:
		return nil
	case m.session.Completed:
		m.infoMessage = "The form is complete. Ctrl+G regenerates the PDF, Ctrl+D downloads it."
		return nil
	case m.session.Busy:
		m.infoMessage = "Wait for the assistant's reply."
		return nil
	}
	m.lastAnswer = text
	m.composer.SetValue("")
	m.errorMessage = ""
	return m.jobs.Start(jobKindTurn, sendTurnJob(m.ws, text))
}

func (m *model) handleTurnResult(err error) {
	switch {
	case err == nil:
		m.lastAnswer = ""
		switch {
		case m.session.Completed && m.export.Artifact != nil:
			m.infoMessage = "All fields answered. Your PDF is ready, press Ctrl+D to download."
		case m.session.Completed:
			m.infoMessage = "All fields answered. Press Ctrl+G to generate the PDF."
		default:
			m.infoMessage = ""
		}
	case errors.Is(err, conversation.ErrDiscarded):
	case errors.Is(err, conversation.ErrSessionCompleted):
		m.infoMessage = "The form is complete. Ctrl+G regenerates the PDF, Ctrl+D downloads it."
	case errors.Is(err, conversation.ErrTurnInFlight):
		m.infoMessage = "Wait for the assistant's reply."
	case errors.Is(err, conversation.ErrNoActiveSession), errors.Is(err, conversation.ErrEmptyMessage):
		m.infoMessage = err.Error()
	default:
		// The session already apologised in the transcript.
		if m.composer.Value() == "" && m.lastAnswer != "" {
			m.composer.SetValue(m.lastAnswer)
		}
		m.infoMessage = "Press Enter to send your answer again."
	}
}

func (m *model) generate() tea.Cmd {
	switch {
	case m.ws == nil:
		return nil
	case m.session.SessionID == "":
		m.infoMessage = "Start a conversation before generating the PDF."
		return nil
	case m.export.InFlight:
		m.infoMessage = "PDF generation is already running."
		return nil
	}
	m.errorMessage = ""
	m.infoMessage = "Generating PDF…"
	return m.jobs.Start(jobKindGenerate, generateJob(m.ws, m.export.Retryable))
}

func (m *model) download() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	if m.export.Artifact == nil {
		m.infoMessage = "Generate the PDF first with Ctrl+G."
		return nil
	}
	m.infoMessage = "Downloading PDF…"
	return m.jobs.Start(jobKindDownload, downloadJob(m.ws))
}

func (m *model) openHistory() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	m.infoMessage = "Loading history…"
	return m.jobs.Start(jobKindHistory, historyJob(m.ws))
}

func (m *model) turnPage(delta int) tea.Cmd {
	if m.ws == nil {
		return nil
	}
	if !m.ws.Highlight.SetPage(m.highlight.Page + delta) {
		return nil
	}
	return m.refresh()
}

func (m *model) reset() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	m.jobs.CancelAll()
	m.ws.Reset()
	m.startPending = false
	m.enterUpload()
	m.errorMessage = ""
	m.infoMessage = "Reset. Enter the path of a PDF or image form to begin."
	log.Info().Msg("session reset by user")
	return m.refresh()
}

// refresh pulls fresh snapshots from the workspace and starts the work they
// call for: the conversation once the document is ready, and the page image
// for whatever the viewer shows.
func (m *model) refresh() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	m.pullSnapshots()

	var cmds []tea.Cmd
	if m.upload.Ready() && m.session.State == conversation.StateUninitialized && !m.startPending {
		m.startPending = true
		m.infoMessage = "Document ready. Starting the assistant…"
		cmds = append(cmds,
			m.jobs.Start(jobKindStart, startConversationJob(m.ws)),
			m.jobs.Start(jobKindPrefetch, prefetchJob(m.ws)),
		)
	}
	if m.stage == stageUpload && m.session.State != conversation.StateUninitialized {
		m.enterConversation()
	}
	m.syncTranscript()
	cmds = append(cmds, m.ensurePage(), m.spin())
	return tea.Batch(cmds...)
}

func (m *model) pullSnapshots() {
	m.upload = m.ws.Upload.Snapshot()
	m.session = m.ws.Session.Snapshot()
	m.highlight = m.ws.Highlight.Snapshot()
	m.export = m.ws.Export.Snapshot()
}

func (m *model) ensurePage() tea.Cmd {
	docID := m.highlight.DocumentID
	if docID == "" {
		m.page = nil
		m.pageKey = pageKey{}
		m.pageLoading = false
		m.pageErr = ""
		return nil
	}
	if m.ws == nil || m.layout.viewerWidth == 0 {
		return nil
	}
	key := pageKey{
		documentID: docID,
		page:       m.highlight.Page,
		width:      m.layout.viewerWidth,
		height:     max(1, m.layout.viewerHeight-2),
	}
	if key == m.pageKey {
		return nil
	}
	if key.documentID != m.pageKey.documentID {
		m.page = nil
	}
	m.pageKey = key
	m.pageLoading = true
	m.pageErr = ""
	return m.jobs.Start(jobKindPage, pageImageJob(m.ws, key))
}

func (m *model) syncTranscript() {
	atBottom := m.transcript.AtBottom()
	m.transcript.SetContent(m.buildTranscript())
	if count := len(m.session.Messages); count != m.transcriptCount || atBottom {
		m.transcriptCount = count
		m.transcript.GotoBottom()
	}
}

func (m *model) enterConversation() {
	m.stage = stageConversation
	m.composerMode = composerModeAnswer
	m.composer.Placeholder = composerAnswerPlaceholder
	m.composer.SetValue("")
	m.composer.Focus()
}

func (m *model) enterUpload() {
	m.stage = stageUpload
	m.composerMode = composerModePath
	m.composer.Placeholder = composerPathPlaceholder
	m.composer.SetValue("")
	m.composer.Focus()
	m.transcriptCount = 0
	m.lastAnswer = ""
}

func (m *model) busy() bool {
	if len(m.activeJobs) > 0 || m.session.Busy || m.export.InFlight {
		return true
	}
	switch m.upload.Status {
	case upload.StatusUploading, upload.StatusProcessing:
		return true
	}
	return m.highlight.Pending || m.highlight.Searching
}

func (m *model) spin() tea.Cmd {
	if m.spinning || !m.busy() {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *model) subscribe() {
	notify := func() {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	}
	m.unsubscribe = append(m.unsubscribe,
		m.ws.Upload.Changes().Subscribe(func(upload.Snapshot) { notify() }),
		m.ws.Session.Changes().Subscribe(func(conversation.Snapshot) { notify() }),
		m.ws.Highlight.Changes().Subscribe(func(highlight.Snapshot) { notify() }),
		m.ws.Export.Changes().Subscribe(func(export.Snapshot) { notify() }),
	)
}

func (m *model) release() {
	m.jobs.CancelAll()
	for _, cancel := range m.unsubscribe {
		cancel()
	}
	m.unsubscribe = nil
}

// waitForChange blocks until a component publishes. Bursts collapse into a
// single message; the model re-arms the wait after handling it.
func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changeMsg{}
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

var (
	titleStyle          = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sectionHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helperStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#a3be8c")).Bold(true)
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffd166"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8ecae6"))
	highlightMarkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("190"))

	heroAccentColor        = lipgloss.Color("#ff8c00")
	heroEmberColor         = lipgloss.Color("#2b1400")
	heroTextColor          = lipgloss.Color("#fff4d0")
	heroSecondaryTextColor = lipgloss.Color("#ffb347")

	panelStyle          = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(heroAccentColor).Padding(0, 1)
	taglineStyle        = lipgloss.NewStyle().Foreground(heroSecondaryTextColor).Italic(true)
	statusBarStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6")).Padding(0, 1)
	keyStyle            = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#ffd166")).Padding(0, 1)
	keyDescStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0def4"))
	legendBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#56526e")).Padding(1, 2)
	currentLineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#0f0f0f")).Background(lipgloss.Color("#8ecae6"))
	logoFaceStyle       = lipgloss.NewStyle().Bold(true).Foreground(heroTextColor).Background(heroEmberColor)
	logoShadowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#110600"))
	logoContainerStyle  = lipgloss.NewStyle().Padding(0, 1)
	logoArtLines        = []string{
		"███████╗   ██████╗   ██████╗   ███╗   ███╗  ███████╗   ██████╗   ██████╗   ██╗   ██╗  ████████╗  ",
		"██╔════╝  ██╔═══██╗  ██╔══██╗  ████╗ ████║  ██╔════╝  ██╔════╝  ██╔═══██╗  ██║   ██║  ╚══██╔══╝  ",
		"█████╗    ██║   ██║  ██████╔╝  ██╔████╔██║  ███████╗  ██║       ██║   ██║  ██║   ██║     ██║     ",
		"██╔══╝    ██║   ██║  ██╔══██╗  ██║╚██╔╝██║  ╚════██║  ██║       ██║   ██║  ██║   ██║     ██║     ",
		"██║       ╚██████╔╝  ██║  ██║  ██║ ╚═╝ ██║  ███████║  ╚██████╗  ╚██████╔╝  ╚██████╔╝     ██║     ",
		"╚═╝        ╚═════╝   ╚═╝  ╚═╝  ╚═╝     ╚═╝  ╚══════╝   ╚═════╝   ╚═════╝    ╚═════╝      ╚═╝     ",
	}
)
