// Package logging configures the application logger and the per-session
// transcript of streamed agent thoughts.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Setup returns the application logger writing human-readable console output
// to stderr at the given level ("debug", "info", "warn", "error").
func Setup(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
