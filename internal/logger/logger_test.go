package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromFormatSelectsBackend(t *testing.T) {
	t.Parallel()

	cases := map[string]any{
		"":        &ZeroLogger{},
		"pretty":  &ZeroLogger{},
		"Console": &ZeroLogger{},
		" text ":  &SlogLogger{},
		"JSON":    &SlogLogger{},
	}
	for format, want := range cases {
		var buf bytes.Buffer
		log, err := NewFromFormat(format, &buf, slog.LevelInfo)
		require.NoError(t, err, "format %q", format)
		assert.IsType(t, want, log, "format %q", format)

		log.Info("selected", "format", format)
		assert.Contains(t, buf.String(), "selected", "format %q", format)
	}
}

func TestNewFromFormatRejectsUnknown(t *testing.T) {
	t.Parallel()

	log, err := NewFromFormat("xml", &bytes.Buffer{}, slog.LevelInfo)
	assert.Nil(t, log)
	assert.ErrorContains(t, err, `unknown log format "xml"`)
}

func TestTextBackend(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelInfo)
	log.With("run", 3).Info("token emitted", "id", 42)
	log.Debug("below level")

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="token emitted"`)
	assert.Contains(t, out, "run=3 id=42")
	assert.NotContains(t, out, "below level")
}

func TestJSONBackendRecordShape(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("dropped")
	require.Zero(t, buf.Len())

	log.WithGroup("gen").Warn("degraded", "marker", "<eos>")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), buf.String())
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "degraded", rec["msg"])
	assert.Contains(t, rec, "source", "json records carry the call site")
	assert.Equal(t, map[string]any{"marker": "<eos>"}, rec["gen"])
}

func TestDiscardAcceptsEverything(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.Error("nothing")
	log.With("k", "v").WithGroup("g").Warn("still nothing")
	assert.IsType(t, &SlogLogger{}, log.With("k", "v"))
}

func TestContextCarriesLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), Pretty(&buf, slog.LevelInfo))
	FromContext(ctx).Info("from context", "step", 1)
	assert.Contains(t, buf.String(), "step=1")

	assert.IsType(t, &SlogLogger{}, FromContext(context.Background()), "falls back to the stderr text logger")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"DEBUG":   slog.LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestPrettyMapsSlogLevels(t *testing.T) {
	t.Parallel()

	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		var buf bytes.Buffer
		log := Pretty(&buf, level)
		log.Debug("d")
		log.Info("i")
		log.Warn("w")
		log.Error("e")
		lines := strings.Count(buf.String(), "\n")
		assert.Equal(t, 4-int(level-slog.LevelDebug)/4, lines, "level %v", level)
	}
}
