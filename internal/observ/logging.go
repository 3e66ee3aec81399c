package observ

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger. Level is one of
// debug|info|warn|error; anything else falls back to info. When pretty is
// true output goes through a console writer (local runs), otherwise JSON
// lines go to stderr for collection.
func SetupLogging(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component returns a logger scoped to a named subsystem.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
