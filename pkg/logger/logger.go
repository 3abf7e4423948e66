// Package logger builds the zerolog.Logger used throughout the agent.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how the root logger is constructed.
type Config struct {
	// Level is a zerolog level name ("debug", "info", "warn", "error").
	// Defaults to "info" when empty or unrecognized.
	Level string

	// Pretty enables a human-readable console writer instead of JSON.
	// Production deployments should leave this false.
	Pretty bool
}

// New builds a root zerolog.Logger from cfg.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter
	var output = os.Stderr

	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
		return zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
