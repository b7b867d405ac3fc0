// Package logger configures the process-wide zerolog.Logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/smarter-guild/bytes-core/internal/appconfig"
)

// New returns a configured zerolog.Logger. Console output in development,
// level controlled by cfg.LogLevel otherwise.
func New(cfg *appconfig.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.Env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		lvl = zerolog.DebugLevel
		zerolog.SetGlobalLevel(lvl)
		return zerolog.New(out).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
