package tuitest

import (
	"regexp"
	"strings"
)

// Frame is the output between two screen clears, raw and as plain text.
type Frame struct {
	Index int
	ANSI  string
	Plain string
}

var (
	clearScreen = regexp.MustCompile(`\x1b\[[0-9;]*J`)
	controlSeq  = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|[\x0e\x0f]`)
)

func parseFrames(raw []byte) []Frame {
	text := strings.ReplaceAll(string(raw), "\r", "")
	var frames []Frame
	for _, segment := range clearScreen.Split(text, -1) {
		segment = strings.TrimPrefix(strings.Trim(segment, "\x00"), "\x1b[H")
		plain := trimLines(stripANSI(segment))
		if plain == "" {
			continue
		}
		frames = append(frames, Frame{Index: len(frames), ANSI: segment, Plain: plain})
	}
	return frames
}

// Contains reports whether any frame shows text.
func (r *Recording) Contains(text string) bool {
	if r == nil {
		return false
	}
	for _, frame := range r.Frames {
		if strings.Contains(frame.Plain, text) {
			return true
		}
	}
	return false
}

// FinalFrame returns the last frame, or false when nothing was drawn.
func (r *Recording) FinalFrame() (Frame, bool) {
	if r == nil || len(r.Frames) == 0 {
		return Frame{}, false
	}
	return r.Frames[len(r.Frames)-1], true
}

func stripANSI(s string) string {
	return controlSeq.ReplaceAllString(s, "")
}

// trimLines drops trailing spaces on every row and trailing blank rows.
func trimLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
