// Package logging bootstraps the process-wide zerolog logger, matching
// src/cmd/cprotocol/root.go's startup sequence in the teacher repo.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. Call once at process start.
func Init(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// For is a convenience constructor for a component-scoped logger carrying
// a "component" field, so log lines are attributable without per-call Str("component", ...) boilerplate.
func For(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
