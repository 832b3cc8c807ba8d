// Package logging sets up structured logging (zerolog, grounded on the
// teacher's logger package) and a rate-limited logger for repeated
// identical errors, per spec.md §7.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. Console-pretty output in
// development, compact JSON otherwise, matching the teacher's
// logger.New split on environment.
func New(env string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	var log zerolog.Logger
	if env == "development" {
		lvl = zerolog.DebugLevel
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(lvl)
	return log
}
