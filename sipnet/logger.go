package sipnet

import (
	"os"

	"github.com/rs/zerolog"
)

// Debug is a global tracing flag. No code in this package reads it, so
// setting it does not enable any per-frame read/write tracing.
var Debug bool

var defaultLogger = zerolog.New(zerolog.ConsoleWriter{
	Out: os.Stderr,
}).With().Timestamp().Logger()

// SetDefaultLogger overrides the package-wide logger used by channels that
// are constructed with a zero-value zerolog.Logger. Must be called
// before constructing any channel to take effect everywhere.
func SetDefaultLogger(l zerolog.Logger) {
	defaultLogger = l
}

// DefaultLogger returns the package-wide logger.
func DefaultLogger() zerolog.Logger {
	return defaultLogger
}
