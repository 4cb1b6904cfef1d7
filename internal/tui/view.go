package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/csheth/formscout/internal/geometry"
	"github.com/csheth/formscout/internal/upload"
)

func (m *model) View() string {
	switch m.stage {
	case stageConversation:
		return m.viewConversation()
	case stageHistory:
		return m.viewHistory()
	default:
		return m.viewUpload()
	}
}

func (m *model) viewUpload() string {
	return joinNonEmpty([]string{
		m.heroView(),
		m.uploadPanel(),
		m.messagesView(),
		m.composerPanel(),
		m.footerView(),
	})
}

func (m *model) viewConversation() string {
	left := strings.Join([]string{
		sectionHeaderStyle.Render("Conversation"),
		m.transcript.View(),
	}, "\n")
	body := left
	if m.layout.viewerWidth > 0 {
		leftPane := lipgloss.NewStyle().Width(m.layout.transcriptWidth).MarginRight(paneGap).Render(left)
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftPane, m.viewerPane())
	} else if status := m.searchStatusLine(); status != "" {
		body = joinNonEmpty([]string{left, helperStyle.Render(status)})
	}
	return joinNonEmpty([]string{
		m.documentHeader(),
		body,
		m.messagesView(),
		m.composerPanel(),
		m.footerView(),
	})
}

func (m *model) viewHistory() string {
	var b strings.Builder
	b.WriteString(sectionHeaderStyle.Render("Form History"))
	b.WriteRune('\n')
	if len(m.history) == 0 {
		b.WriteString(helperStyle.Render("Nothing uploaded yet."))
	}
	for idx, form := range m.history {
		created := ""
		if t := form.Created(); !t.IsZero() {
			created = t.Format("2006-01-02 15:04")
		}
		line := historyLine(form.Name, form.Status, created, form.FileSize)
		if idx == m.historyCursor {
			line = currentLineStyle.Render("▸ " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		if idx < len(m.history)-1 {
			b.WriteRune('\n')
		}
	}
	return joinNonEmpty([]string{m.heroView(), b.String(), m.messagesView(), m.footerView()})
}

func historyLine(name, status, created string, size int64) string {
	parts := []string{previewText(name, historyNameLimit), "[" + status + "]"}
	if created != "" {
		parts = append(parts, created)
	}
	if size > 0 {
		parts = append(parts, humanSize(size))
	}
	return strings.Join(parts, "  ")
}

func (m *model) heroView() string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		renderLogo(),
		taglineStyle.Render(heroTagline),
	)
}

func (m *model) uploadPanel() string {
	snap := m.upload
	if snap.Status == upload.StatusIdle {
		return ""
	}
	lines := []string{sectionHeaderStyle.Render("Document")}
	if doc := snap.Document; doc != nil && doc.Name != "" {
		name := doc.Name
		if doc.Size > 0 {
			name = fmt.Sprintf("%s  •  %s", name, humanSize(doc.Size))
		}
		lines = append(lines, titleStyle.Render(name))
	}
	status := uploadStatusLabel(snap.Status)
	switch snap.Status {
	case upload.StatusUploading, upload.StatusProcessing:
		status = fmt.Sprintf("%s %s", m.spinner.View(), status)
	case upload.StatusCompleted:
		status = successStyle.Render(status)
	}
	lines = append(lines, status, m.progress.ViewAs(float64(snap.Progress)/100))
	for _, entry := range snap.Logs {
		lines = append(lines, helperStyle.Render("› "+entry))
	}
	if snap.Error != "" {
		lines = append(lines, errorStyle.Render(snap.Error))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func uploadStatusLabel(status upload.Status) string {
	switch status {
	case upload.StatusUploading:
		return "Uploading…"
	case upload.StatusProcessing:
		return "Analyzing…"
	case upload.StatusCompleted:
		return "Ready"
	case upload.StatusError:
		return "Failed"
	default:
		return "Waiting for a document"
	}
}

func (m *model) documentHeader() string {
	name := "Untitled form"
	if doc := m.upload.Document; doc != nil && doc.Name != "" {
		name = doc.Name
	}
	parts := []string{titleStyle.Render(name)}
	if label := m.session.FieldLabel; label != "" {
		parts = append(parts, helperStyle.Render("Field: "+label))
	}
	parts = append(parts, m.exportStatus())
	return strings.Join(parts, "  •  ")
}

func (m *model) exportStatus() string {
	exp := m.export
	switch {
	case exp.InFlight:
		return helperStyle.Render(m.spinner.View() + " Generating PDF…")
	case exp.Downloaded != "":
		return successStyle.Render("Saved " + exp.Downloaded)
	case exp.Artifact != nil:
		return successStyle.Render("Download ready (Ctrl+D)")
	case exp.LastError != "" && exp.Retryable:
		return errorStyle.Render("PDF failed, Ctrl+G to retry")
	case m.session.SessionID != "":
		return helperStyle.Render("Ctrl+G to generate")
	default:
		return ""
	}
}

func (m *model) viewerPane() string {
	hl := m.highlight
	title := "Page " + fmt.Sprint(hl.Page)
	if hl.PageCount > 0 {
		title = fmt.Sprintf("Page %d of %d", hl.Page, hl.PageCount)
	}
	var body string
	switch {
	case m.page != nil:
		m.page.Clear()
		var rects []geometry.Rect
		for _, match := range hl.OnPage(hl.Page) {
			rects = append(rects, match.Rect)
		}
		m.page.Mark(rects...)
		body = m.page.Render(highlightMarkStyle)
	case m.pageErr != "":
		body = errorStyle.Render("Page unavailable: " + m.pageErr)
	case m.pageLoading:
		body = helperStyle.Render(m.spinner.View() + " Loading page…")
	default:
		body = helperStyle.Render("No page to show.")
	}
	parts := []string{sectionHeaderStyle.Render(title), body}
	if status := m.searchStatusLine(); status != "" {
		parts = append(parts, helperStyle.Render(status))
	}
	return lipgloss.NewStyle().Width(m.layout.viewerWidth).Render(strings.Join(parts, "\n"))
}

func (m *model) searchStatusLine() string {
	hl := m.highlight
	if hl.Term == "" {
		return ""
	}
	switch {
	case hl.Pending || hl.Searching:
		return fmt.Sprintf("Searching: %s…", hl.Term)
	case hl.LastError != "":
		return fmt.Sprintf("Searching: %s • search failed", hl.Term)
	}
	line := fmt.Sprintf("Searching: %s • Found %d matches", hl.Term, len(hl.Matches))
	if onPage := len(hl.OnPage(hl.Page)); onPage != len(hl.Matches) {
		line += fmt.Sprintf(" (%d on this page)", onPage)
	}
	return line
}

func (m *model) messagesView() string {
	var parts []string
	if m.errorMessage != "" {
		parts = append(parts, errorStyle.Render(m.errorMessage))
	}
	if m.infoMessage != "" {
		parts = append(parts, helperStyle.Render(previewText(m.infoMessage, transcriptPreviewLimit)))
	}
	return strings.Join(parts, "\n")
}

func (m *model) composerPanel() string {
	title := "Form file"
	help := "Enter: upload • Ctrl+O: history • F1: keys"
	if m.composerMode == composerModeAnswer {
		title = "Your answer"
		help = "Enter: send • PgUp/PgDn: page • Ctrl+G: PDF • Ctrl+D: download • F1: keys"
	}
	return strings.Join([]string{
		sectionHeaderStyle.Render(title),
		m.composer.View(),
		helperStyle.Render(help),
	}, "\n")
}

func (m *model) footerView() string {
	parts := []string{m.sessionMeterView()}
	if m.helpVisible {
		parts = append(parts, m.keyLegendView())
	}
	return joinNonEmpty(parts)
}

func joinNonEmpty(parts []string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, "\n\n")
}

func (m *model) sessionMeterView() string {
	stats := []string{
		fmt.Sprintf("Upload %s", m.upload.Status),
	}
	if m.session.State != "" {
		stats = append(stats, fmt.Sprintf("Chat %s", m.session.State))
	}
	if turns := len(m.session.Messages); turns > 0 {
		stats = append(stats, fmt.Sprintf("Messages %d", turns))
	}
	if m.highlight.Term != "" {
		stats = append(stats, fmt.Sprintf("Matches %d", len(m.highlight.Matches)))
	}
	if jobBadges := m.jobStatusBadges(); len(jobBadges) > 0 {
		stats = append(stats, jobBadges...)
	}
	return statusBarStyle.Render(strings.Join(stats, "  •  "))
}

func (m *model) keyLegendView() string {
	hints := []keyHint{
		{"Enter", "Upload or send"},
		{"Esc", "Clear or back"},
		{"↑/↓", "Scroll"},
		{"PgUp/PgDn", "Turn page"},
		{"Ctrl+G", "Generate PDF"},
		{"Ctrl+D", "Download PDF"},
		{"Ctrl+O", "History"},
		{"Ctrl+R", "Reset"},
		{"Ctrl+C", "Quit"},
	}
	rows := []string{sectionHeaderStyle.Render("Keys")}
	const columns = 3
	for i := 0; i < len(hints); i += columns {
		end := i + columns
		if end > len(hints) {
			end = len(hints)
		}
		var cells []string
		for _, hint := range hints[i:end] {
			key := keyStyle.Render(hint.Key)
			desc := keyDescStyle.Render(" " + hint.Description + "  ")
			cells = append(cells, lipgloss.JoinHorizontal(lipgloss.Top, key, desc))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return legendBoxStyle.Render(strings.Join(rows, "\n"))
}

func renderLogo() string {
	if len(logoArtLines) == 0 {
		return ""
	}
	width := 0
	lineRunes := make([][]rune, len(logoArtLines))
	for i, line := range logoArtLines {
		runes := []rune(line)
		lineRunes[i] = runes
		if len(runes) > width {
			width = len(runes)
		}
	}
	width++
	height := len(logoArtLines) + 1

	type cell struct {
		r     rune
		style lipgloss.Style
	}

	grid := make([][]cell, height)
	for i := range grid {
		grid[i] = make([]cell, width)
	}
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' && y+1 < height && x+1 < width {
				grid[y+1][x+1] = cell{r: r, style: logoShadowStyle}
			}
		}
	}
	for y, runes := range lineRunes {
		for x, r := range runes {
			if r != ' ' {
				grid[y][x] = cell{r: r, style: logoFaceStyle}
			}
		}
	}

	lines := make([]string, height)
	for y, row := range grid {
		var b strings.Builder
		for _, c := range row {
			if c.r == 0 {
				b.WriteRune(' ')
				continue
			}
			b.WriteString(c.style.Render(string(c.r)))
		}
		lines[y] = b.String()
	}
	return logoContainerStyle.Render(strings.Join(lines, "\n"))
}
