// Package logging wires slog for the whole binary: the CLI calls Setup once,
// then every package takes a component-tagged logger from New.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configuration string to a slog level. The empty string
// means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Init installs the global slog default with the given level and format.
// Format is "json" or "text"; anything else falls back to text. If no
// writer is given, os.Stderr is used.
func Init(level slog.Level, format string, w ...io.Writer) {
	var out io.Writer = os.Stderr
	if len(w) > 0 && w[0] != nil {
		out = w[0]
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Setup parses a level name and installs the global logger in one step.
// CLI flag handling goes through here so a bad --log-level fails loudly
// instead of silently logging at info.
func Setup(level, format string, w ...io.Writer) error {
	lv, err := ParseLevel(level)
	if err != nil {
		return err
	}
	Init(lv, format, w...)
	return nil
}

// New returns a logger with a "component" attribute for module-scoped logging.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}
