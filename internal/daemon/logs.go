package daemon

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// LevelForVerbosity maps the -v count to a log level
func LevelForVerbosity(verbose int) slog.Level {
	switch {
	case verbose <= 0:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// NewLogger creates a tint logger writing to w
func NewLogger(w io.Writer, verbose int, noColor bool) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      LevelForVerbosity(verbose),
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
	return slog.New(handler)
}

// SetupLogging installs a stderr logger as the default. Colour is disabled
// when stderr is not a terminal.
func SetupLogging(verbose int) *slog.Logger {
	logger := NewLogger(os.Stderr, verbose, !IsTerminal(os.Stderr))
	slog.SetDefault(logger)
	return logger
}

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
