package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/shreedharn/bedrock-cost-keeper/config"
)

// New returns a configured zerolog.Logger. Development gets a human-readable
// console writer; every other environment gets structured JSON on stderr.
func New(cfg *config.Config) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "bedrock-cost-keeper").Logger()
}
