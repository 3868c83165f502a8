//go:build !logless
// +build !logless

package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

var Log = logger.With().Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr})

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if DebugEnabled() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// DebugEnabled reports whether the TL_DEBUG environment variable requests
// debug traces. Read once at startup; not a shared runtime flag.
func DebugEnabled() bool {
	v := strings.ToLower(os.Getenv("TL_DEBUG"))
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
