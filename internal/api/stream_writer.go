package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter writes generation events as server-sent events. Events
// with a sequence number at or below starting_after are skipped.
type SSEStreamWriter struct {
	w             io.Writer
	flusher       func()
	startingAfter int
	seq           int
	begun         bool
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	return &SSEStreamWriter{
		w:             res,
		flusher:       flusher.Flush,
		startingAfter: parseStartingAfter(c.QueryParam("starting_after")),
		seq:           1,
	}, nil
}

func (s *SSEStreamWriter) Begin(g Generation) error {
	s.begun = true
	g.Status = StatusInProgress
	g.CompletedAt = nil
	return s.emit(streamEvent{Type: "generation.created", Generation: &g})
}

func (s *SSEStreamWriter) Started() bool {
	return s.begun
}

func (s *SSEStreamWriter) EmitDelta(delta string) error {
	return s.emit(streamEvent{Type: "generation.delta", Delta: delta})
}

func (s *SSEStreamWriter) Complete(g Generation) error {
	return s.emit(streamEvent{Type: "generation." + g.Status, Generation: &g})
}

func (s *SSEStreamWriter) Failed(g Generation, err error) error {
	g.Status = StatusFailed
	if g.Error == nil && err != nil {
		g.Error = &APIError{Message: err.Error(), Type: "server_error"}
	}
	return s.emit(streamEvent{Type: "generation.failed", Generation: &g})
}

func (s *SSEStreamWriter) Incomplete(g Generation, reason string) error {
	g.Status = StatusIncomplete
	if g.IncompleteDetails == nil {
		g.IncompleteDetails = &IncompleteDetails{Reason: reason}
	}
	return s.emit(streamEvent{Type: "generation.incomplete", Generation: &g})
}

func (s *SSEStreamWriter) emit(ev streamEvent) error {
	ev.SequenceNumber = s.seq
	s.seq++
	if s.startingAfter >= ev.SequenceNumber {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}
