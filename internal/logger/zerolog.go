package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger is the console backend. Arguments follow the slog convention
// of alternating keys and values, or slog.Attr values.
type ZeroLogger struct {
	logger zerolog.Logger
	group  string
}

// Pretty writes human readable lines through zerolog's ConsoleWriter.
// Colours are only used when w is a terminal.
func Pretty(w io.Writer, level slog.Level) Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(w),
	}
	zl := zerolog.New(output).Level(zerologLevel(level)).With().Timestamp().Logger()
	return &ZeroLogger{logger: zl}
}

func (l *ZeroLogger) Debug(msg string, args ...any) { l.emit(l.logger.Debug(), msg, args) }
func (l *ZeroLogger) Info(msg string, args ...any)  { l.emit(l.logger.Info(), msg, args) }
func (l *ZeroLogger) Warn(msg string, args ...any)  { l.emit(l.logger.Warn(), msg, args) }
func (l *ZeroLogger) Error(msg string, args ...any) { l.emit(l.logger.Error(), msg, args) }

func (l *ZeroLogger) With(args ...any) Logger {
	ctx := l.logger.With()
	for _, f := range l.fields(args) {
		ctx = ctx.Interface(f.key, f.value)
	}
	return &ZeroLogger{logger: ctx.Logger(), group: l.group}
}

func (l *ZeroLogger) WithGroup(name string) Logger {
	if name == "" {
		return l
	}
	group := name
	if l.group != "" {
		group = l.group + "." + name
	}
	return &ZeroLogger{logger: l.logger, group: group}
}

func (l *ZeroLogger) emit(event *zerolog.Event, msg string, args []any) {
	// nil when the level is disabled
	if event == nil {
		return
	}
	for _, f := range l.fields(args) {
		if err, ok := f.value.(error); ok {
			event = event.AnErr(f.key, err)
			continue
		}
		event = event.Interface(f.key, f.value)
	}
	event.Msg(msg)
}

type field struct {
	key   string
	value any
}

func (l *ZeroLogger) fields(args []any) []field {
	out := make([]field, 0, len(args)/2+1)
	for i := 0; i < len(args); i++ {
		switch a := args[i].(type) {
		case slog.Attr:
			out = append(out, field{key: l.key(a.Key), value: a.Value.Resolve().Any()})
		case string:
			if i+1 >= len(args) {
				out = append(out, field{key: "!BADKEY", value: a})
				continue
			}
			out = append(out, field{key: l.key(a), value: args[i+1]})
			i++
		default:
			out = append(out, field{key: "!BADKEY", value: fmt.Sprint(a)})
		}
	}
	return out
}

func (l *ZeroLogger) key(k string) string {
	if l.group == "" {
		return k
	}
	return l.group + "." + k
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
