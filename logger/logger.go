// Package logger configures the process-wide zerolog logger.
package logger

import (
	"os"

	"github.com/alloybilling/ingestion-gateway/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. Components should derive their
// own sub-logger from it via With().Str("component", name).
func New(cfg *config.Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Logger()
}
