package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so other packages can carry a logger
// without importing the third-party module directly.
type Logger = zerolog.Logger

// NewLogger builds the process logger shared by the API and the GPU
// worker. Production emits JSON to stdout; development gets a console
// writer and debug level. Durations are logged in seconds since GPU jobs
// run for minutes, not milliseconds.
func NewLogger(appEnv string) zerolog.Logger {
	zerolog.DurationFieldUnit = time.Second

	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}
