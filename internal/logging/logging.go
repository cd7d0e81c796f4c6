// Package logging configures the server's structured logger. A thin wrapper over zerolog, trimmed to this server's needs from
// the mode-aware CLI/GUI logger this system's stack otherwise uses.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a component logger writing human-readable console output,
// tagged with the given component name.
func New(component string, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
