package main

import (
	"io"
	"strings"
)

// lineEditor holds the editing state of one prompt line. Terminal setup
// lives in the platform files; this part only interprets bytes.
type lineEditor struct {
	prompt string
	out    io.Writer

	line   []byte
	cursor int

	history  []string
	histPos  int
	browsing bool
	draft    string

	esc    int
	escBuf strings.Builder
}

// replHistory is shared by every prompt of one process.
var replHistory []string

func newLineEditor(prompt string, out io.Writer, history []string) *lineEditor {
	return &lineEditor{prompt: prompt, out: out, history: history, histPos: len(history)}
}

// feed consumes one byte. done reports that the line is complete; err is
// io.EOF on Ctrl+C, or Ctrl+D on an empty line.
func (e *lineEditor) feed(b byte) (done bool, err error) {
	if e.esc != 0 {
		e.feedEscape(b)
		return false, nil
	}
	switch b {
	case 27:
		e.esc = 1
	case '\r', '\n':
		e.write("\r\n")
		return true, nil
	case 3:
		e.write("^C\r\n")
		return false, io.EOF
	case 4:
		if len(e.line) == 0 {
			e.write("\r\n")
			return false, io.EOF
		}
	case 127, 8:
		if e.cursor > 0 {
			e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
			e.cursor--
			e.redraw()
		}
	case 1:
		e.cursor = 0
		e.redraw()
	case 5:
		e.cursor = len(e.line)
		e.redraw()
	case 23:
		e.deleteWordBack()
	default:
		if b >= 32 {
			e.insert(b)
		}
	}
	return false, nil
}

// text returns the finished line and records it in the history.
func (e *lineEditor) text() string {
	out := string(e.line)
	if strings.TrimSpace(out) != "" {
		replHistory = append(replHistory, out)
	}
	return out
}

func (e *lineEditor) feedEscape(b byte) {
	if e.esc == 1 {
		e.esc = 0
		switch b {
		case '[':
			e.esc = 2
			e.escBuf.Reset()
		case 'b', 'B':
			e.wordLeft()
		case 'f', 'F':
			e.wordRight()
		case 127:
			e.deleteWordBack()
		}
		return
	}
	e.escBuf.WriteByte(b)
	if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
		e.esc = 0
		e.csi(e.escBuf.String())
	}
}

func (e *lineEditor) csi(seq string) {
	switch seq {
	case "A":
		e.historyUp()
	case "B":
		e.historyDown()
	case "D":
		if e.cursor > 0 {
			e.cursor--
			e.redraw()
		}
	case "C":
		if e.cursor < len(e.line) {
			e.cursor++
			e.redraw()
		}
	case "H":
		e.cursor = 0
		e.redraw()
	case "F":
		e.cursor = len(e.line)
		e.redraw()
	case "3~":
		if e.cursor < len(e.line) {
			e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			e.redraw()
		}
	case "1;5D", "5D":
		e.wordLeft()
	case "1;5C", "5C":
		e.wordRight()
	}
}

func (e *lineEditor) insert(b byte) {
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = b
	e.cursor++
	e.redraw()
}

func (e *lineEditor) historyUp() {
	if len(e.history) == 0 {
		return
	}
	if !e.browsing {
		e.draft = string(e.line)
		e.browsing = true
		e.histPos = len(e.history)
	}
	if e.histPos > 0 {
		e.histPos--
		e.setLine(e.history[e.histPos])
	}
}

func (e *lineEditor) historyDown() {
	if !e.browsing {
		return
	}
	if e.histPos < len(e.history)-1 {
		e.histPos++
		e.setLine(e.history[e.histPos])
		return
	}
	e.histPos = len(e.history)
	e.browsing = false
	e.setLine(e.draft)
}

func (e *lineEditor) setLine(s string) {
	e.line = append(e.line[:0], s...)
	e.cursor = len(e.line)
	e.redraw()
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }

func (e *lineEditor) wordStart() int {
	i := e.cursor
	for i > 0 && isBlank(e.line[i-1]) {
		i--
	}
	for i > 0 && !isBlank(e.line[i-1]) {
		i--
	}
	return i
}

func (e *lineEditor) wordLeft() {
	e.cursor = e.wordStart()
	e.redraw()
}

func (e *lineEditor) wordRight() {
	for e.cursor < len(e.line) && isBlank(e.line[e.cursor]) {
		e.cursor++
	}
	for e.cursor < len(e.line) && !isBlank(e.line[e.cursor]) {
		e.cursor++
	}
	e.redraw()
}

func (e *lineEditor) deleteWordBack() {
	start := e.wordStart()
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.cursor = start
	e.redraw()
}

func (e *lineEditor) redraw() {
	e.write("\r" + e.prompt + string(e.line) + "\x1b[K")
	if e.cursor < len(e.line) {
		e.write("\r" + e.prompt + string(e.line[:e.cursor]))
	}
}

func (e *lineEditor) write(s string) {
	if e.out != nil {
		_, _ = io.WriteString(e.out, s)
	}
}

func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
