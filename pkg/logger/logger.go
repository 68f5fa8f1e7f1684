// +build !logless

package logger

import (
	"os"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

var Log = logger.With().Caller().Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr})

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Verbose lowers the global level to Debug so the analyser and the
// executors report their progress.
func Verbose() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}
