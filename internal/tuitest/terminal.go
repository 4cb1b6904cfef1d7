package tuitest

import (
	"bytes"
	"io"
)

// termenv probes the terminal for colours and the cursor position before
// the first frame. A PTY has nobody on the other end, so the harness
// answers the way a dark xterm would.
var terminalQueries = []struct {
	query []byte
	reply []byte
}{
	{[]byte("\x1b[6n"), []byte("\x1b[1;1R")},
	{[]byte("\x1b]10;?\x07"), []byte("\x1b]10;rgb:cccc/cccc/cccc\x07")},
	{[]byte("\x1b]10;?\x1b\\"), []byte("\x1b]10;rgb:cccc/cccc/cccc\x1b\\")},
	{[]byte("\x1b]11;?\x07"), []byte("\x1b]11;rgb:0000/0000/0000\x07")},
	{[]byte("\x1b]11;?\x1b\\"), []byte("\x1b]11;rgb:0000/0000/0000\x1b\\")},
}

const (
	responderWindow = 256
	responderKeep   = 64
)

type terminalResponder struct {
	w       io.Writer
	pending []byte
}

func newTerminalResponder(w io.Writer) *terminalResponder {
	return &terminalResponder{w: w, pending: make([]byte, 0, responderWindow)}
}

// Process scans program output for queries, including ones split across
// reads, and writes the replies back in the order the queries appeared.
func (tr *terminalResponder) Process(chunk []byte) {
	tr.pending = append(tr.pending, chunk...)
	for tr.answerNext() {
	}
	if len(tr.pending) > responderWindow {
		tr.pending = append(tr.pending[:0], tr.pending[len(tr.pending)-responderKeep:]...)
	}
}

func (tr *terminalResponder) answerNext() bool {
	first, end := -1, 0
	var reply []byte
	for _, q := range terminalQueries {
		idx := bytes.Index(tr.pending, q.query)
		if idx >= 0 && (first < 0 || idx < first) {
			first, end, reply = idx, idx+len(q.query), q.reply
		}
	}
	if first < 0 {
		return false
	}
	tr.pending = tr.pending[end:]
	_, _ = tr.w.Write(reply)
	return true
}
