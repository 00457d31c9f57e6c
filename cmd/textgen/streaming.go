package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant    StreamMode = "instant"
	StreamSmooth     StreamMode = "smooth"
	StreamTypewriter StreamMode = "typewriter"
	StreamQuiet      StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return StreamInstant, nil
	case StreamInstant, StreamSmooth, StreamTypewriter, StreamQuiet:
		return m, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (instant, smooth, typewriter, quiet)", s)
	}
}

// StreamWriter prints generated fragments as they arrive. One StreamWriter
// serves one generation; Close returns everything that was written.
type StreamWriter struct {
	mode   StreamMode
	buffer *bufio.Writer

	mu            sync.Mutex
	batch         strings.Builder
	lastFlush     time.Time
	flushInterval time.Duration
	batchSize     int // flush after N words

	accumulator strings.Builder
	rawOutput   bool

	stop chan struct{}
	done chan struct{}
}

func NewStreamWriter(w io.Writer, mode StreamMode, rawOutput bool) *StreamWriter {
	sw := &StreamWriter{
		mode:          mode,
		buffer:        bufio.NewWriterSize(w, 4096),
		flushInterval: 50 * time.Millisecond,
		batchSize:     5,
		lastFlush:     time.Now(),
		rawOutput:     rawOutput,
	}
	if mode == StreamSmooth {
		sw.stop = make(chan struct{})
		sw.done = make(chan struct{})
		go sw.backgroundFlusher()
	}
	return sw
}

// Write is an inference.StreamFunc.
func (w *StreamWriter) Write(fragment string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.accumulator.WriteString(fragment)
	switch w.mode {
	case StreamInstant:
		w.writeOut(fragment)
		_ = w.buffer.Flush()
	case StreamSmooth:
		w.batch.WriteString(fragment)
		words := strings.Count(w.batch.String(), " ") + 1
		if words >= w.batchSize || time.Since(w.lastFlush) >= w.flushInterval {
			w.flushBatch()
		}
	case StreamTypewriter:
		for _, r := range fragment {
			w.writeOut(string(r))
			_ = w.buffer.Flush()
		}
	case StreamQuiet:
	}
}

// Close stops background flushing, writes anything still buffered and
// returns the full text.
func (w *StreamWriter) Close() string {
	if w.stop != nil {
		close(w.stop)
		<-w.done
		w.stop = nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.mode {
	case StreamQuiet:
		w.writeOut(w.accumulator.String())
	case StreamSmooth:
		w.flushBatch()
	}
	_ = w.buffer.Flush()
	return w.accumulator.String()
}

func (w *StreamWriter) writeOut(s string) {
	if w.rawOutput {
		s = escapeRawOutput(s)
	}
	_, _ = w.buffer.WriteString(s)
}

// flushBatch writes the pending batch. Callers hold mu.
func (w *StreamWriter) flushBatch() {
	if w.batch.Len() == 0 {
		return
	}
	w.writeOut(w.batch.String())
	_ = w.buffer.Flush()
	w.batch.Reset()
	w.lastFlush = time.Now()
}

func (w *StreamWriter) backgroundFlusher() {
	defer close(w.done)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			if time.Since(w.lastFlush) >= w.flushInterval {
				w.flushBatch()
			}
			w.mu.Unlock()
		}
	}
}

func escapeRawOutput(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(escapeRawOutputRune(r))
	}
	return b.String()
}

func escapeRawOutputRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	default:
		if strconv.IsPrint(r) {
			return string(r)
		}
		return fmt.Sprintf(`\u%04x`, r)
	}
}
