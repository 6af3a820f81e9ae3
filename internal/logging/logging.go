// Package logging builds the zerolog loggers used by the binaries.
package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a console logger writing to w at the named level.
// Unknown or empty levels fall back to info.
func New(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
