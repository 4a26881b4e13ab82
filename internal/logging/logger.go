// Package logging installs a compact single-line slog handler used by every
// replicadb process.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

const timeLayout = "2006-01-02 15:04:05.000"

type Options struct {
	Level     slog.Leveler
	AddSource bool
	// Color wraps the level in ANSI colors.
	Color bool
	// StackOnError appends a goroutine stack to error records carrying an "error" attr.
	StackOnError bool
}

type prettyHandler struct {
	opts  Options
	attrs []slog.Attr
	group string

	mu  *sync.Mutex
	out io.Writer
}

func NewPrettyHandler(out io.Writer, opts *Options) slog.Handler {
	if out == nil {
		out = os.Stdout
	}
	if opts == nil {
		opts = &Options{}
	}
	return &prettyHandler{
		opts: *opts,
		mu:   &sync.Mutex{},
		out:  out,
	}
}

// Init installs the pretty handler as the default slog logger.
func Init(levelName string) {
	slog.SetDefault(slog.New(NewPrettyHandler(os.Stdout, &Options{
		Level:        ParseLevel(levelName),
		AddSource:    true,
		Color:        true,
		StackOnError: true,
	})))
}

func (h *prettyHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.opts.Level == nil {
		return true
	}
	return lvl >= h.opts.Level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.Format(timeLayout))
	buf.WriteByte(' ')

	if h.opts.Color {
		fmt.Fprintf(&buf, "%s%-5s\033[0m ", colorForLevel(r.Level), levelName(r.Level))
	} else {
		fmt.Fprintf(&buf, "%-5s ", levelName(r.Level))
	}

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		loc := fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		fmt.Fprintf(&buf, "%-25s ", loc)
	}

	buf.WriteString(r.Message)

	var errVal error
	write := func(a slog.Attr, grouped bool) {
		if a.Equal(slog.Attr{}) {
			return
		}
		key := a.Key
		if grouped && h.group != "" {
			key = h.group + "." + key
		}
		if e, ok := a.Value.Any().(error); ok && a.Key == "error" {
			errVal = e
		}
		fmt.Fprintf(&buf, " %s=%v", key, a.Value.Resolve().Any())
	}
	for _, a := range h.attrs {
		write(a, false)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a, true)
		return true
	})
	buf.WriteByte('\n')

	if errVal != nil && h.opts.StackOnError && r.Level >= slog.LevelError {
		buf.Write(debug.Stack())
		buf.WriteByte('\n')
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	clone.group = name
	return &clone
}

func levelName(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a config value to a slog level. Unknown values mean info.
func ParseLevel(l string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func colorForLevel(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return "\033[36m" // cyan
	case l < slog.LevelWarn:
		return "\033[32m" // green
	case l < slog.LevelError:
		return "\033[33m" // yellow
	default:
		return "\033[31m" // red
	}
}
