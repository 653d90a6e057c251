package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger with timestamped JSON output on
// stdout and the requested level. Invalid levels fall back to info.
func Init(level string) {
	log.Logger = log.Output(os.Stdout).With().Timestamp().Logger()

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	log.Info().Str("level", zerolog.GlobalLevel().String()).Msg("Logger initialized")
}

// Component returns a child logger tagged with the given component name.
// Collectors and engine stages log through one of these so records can be
// filtered per subsystem.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
