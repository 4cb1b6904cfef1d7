package tui

import (
	"fmt"
	"strings"

	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/csheth/formscout/internal/conversation"
)

type pageLayout struct {
	windowWidth      int
	windowHeight     int
	transcriptWidth  int
	transcriptHeight int
	viewerWidth      int
	viewerHeight     int
	composerHeight   int
}

func newPageLayout() pageLayout {
	return pageLayout{
		transcriptWidth:  80,
		transcriptHeight: 12,
		viewerHeight:     12,
		composerHeight:   1,
	}
}

// Update splits the window between the transcript and the page viewer. The
// viewer is hidden below minSplitWidth.
func (l *pageLayout) Update(width, height int) {
	l.windowWidth = width
	l.windowHeight = height
	innerWidth := width - viewportHorizontalPadding
	if innerWidth < minViewportWidth {
		innerWidth = minViewportWidth
	}
	l.composerHeight = 1
	const chrome = 10
	usable := height - chrome - l.composerHeight
	if usable < 8 {
		usable = 8
	}
	l.transcriptHeight = usable
	l.viewerHeight = usable
	if innerWidth < minSplitWidth {
		l.viewerWidth = 0
		l.transcriptWidth = innerWidth
		return
	}
	l.viewerWidth = innerWidth * 2 / 5
	l.transcriptWidth = innerWidth - l.viewerWidth - paneGap
}

func (m *model) buildTranscript() string {
	messages := m.session.Messages
	if len(messages) == 0 {
		switch m.session.State {
		case conversation.StateStarting:
			return helperStyle.Render(fmt.Sprintf("%s Starting the assistant…", m.spinner.View()))
		case conversation.StateFaulted:
			return errorStyle.Render(m.session.Error)
		default:
			return helperStyle.Render("The assistant will greet you once the document is analyzed.")
		}
	}
	wrap := max(m.transcriptWidth()-transcriptIndent*2, 20)
	blocks := make([]string, 0, len(messages)+1)
	for _, msg := range messages {
		body := indent.String(wordwrap.String(msg.Text, wrap), transcriptIndent)
		label := transcriptLabel(msg.Role)
		if label == "" {
			blocks = append(blocks, body)
			continue
		}
		style := assistantLabelStyle
		if msg.Role == conversation.RoleUser {
			style = userLabelStyle
		}
		blocks = append(blocks, style.Render(label)+"\n"+body)
	}
	if m.session.Busy {
		blocks = append(blocks, helperStyle.Render(fmt.Sprintf("%s Assistant is typing…", m.spinner.View())))
	}
	return strings.Join(blocks, "\n\n")
}

func (m *model) transcriptWidth() int {
	if m.transcript.Width <= 0 {
		return 80
	}
	return m.transcript.Width
}

func previewText(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func transcriptLabel(role conversation.Role) string {
	switch role {
	case conversation.RoleUser:
		return "You"
	case conversation.RoleAssistant:
		return "Assistant"
	default:
		return string(role)
	}
}

func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
