// Package logging builds the zerolog logger shared by the CLI and the
// pipeline components.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// ErrInvalidOptions is returned for an unknown level or format.
var ErrInvalidOptions = errors.New("invalid logging options")

// Options configure New.
type Options struct {
	Level  string    // trace, debug, info, warn, error, off (default info)
	Format string    // json (default) or console
	Writer io.Writer // default os.Stderr
}

// New returns a logger writing to opts.Writer.
func New(opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	default:
		return zerolog.Nop(), fmt.Errorf("%w: format %q", ErrInvalidOptions, opts.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("app", "zymctrl").Logger(), nil
}

// ParseLevel maps a level name to zerolog. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return zerolog.InfoLevel, nil
	case "off":
		return zerolog.Disabled, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("%w: level %q", ErrInvalidOptions, s)
	}
	return level, nil
}
