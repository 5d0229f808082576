// Package logging constructs the pipeline's structured logger. It is
// the Go-native counterpart of original_source's JsonLogFormatter: one
// structured record per line, a fixed set of top-level fields plus
// arbitrary extras, with error/cause chains preserved.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stderr if nil).
// Pretty-prints to a TTY for local development; emits compact JSON
// otherwise, matching how the rest of the fleet consumes logs.
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	if f, ok := w.(*os.File); ok && isTerminal(f) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).With().Timestamp().Logger()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Component returns a child logger scoped to component name, matching
// the "component" field convention used throughout the pipeline.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
