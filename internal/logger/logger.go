package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns the process logger. ENV=development switches to the console
// writer; level is parsed from LOG_LEVEL and defaults to info.
func New() zerolog.Logger {
	return NewWithWriter(os.Stderr, os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
}

func NewWithWriter(w io.Writer, env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Str("service", "pointledger").Logger().Level(lvl)
}
