// Package logging configures the global zerolog logger for the CLI.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures the logger
type Options struct {
	Out    io.Writer
	Format string // console or json
	Debug  bool
	Quiet  bool
}

// Setup points the global logger at opts.Out
func Setup(opts Options) error {
	var out io.Writer
	switch strings.ToLower(opts.Format) {
	case FormatConsole, "":
		// Pretty console output
		out = zerolog.ConsoleWriter{
			Out:        opts.Out,
			TimeFormat: time.Kitchen,
		}
	case FormatJSON:
		out = opts.Out
	default:
		return fmt.Errorf("invalid log format: %s (valid: console, json)", opts.Format)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(Level(opts.Debug, opts.Quiet))
	return nil
}

// Level picks the global level: debug wins over quiet
func Level(debug, quiet bool) zerolog.Level {
	switch {
	case debug:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
