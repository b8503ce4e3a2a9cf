// Package obs provides the process-wide structured logger.
package obs

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Logger returns the process-wide zerolog.Logger, configured from
// CLAUDE_CODE_LOG_LEVEL (default "info") and CLAUDE_CODE_LOG_FORMAT
// ("json" or, by default, a human-readable console writer).
func Logger() *zerolog.Logger {
	once.Do(func() {
		level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv("CLAUDE_CODE_LOG_LEVEL"))))
		if err != nil {
			level = zerolog.InfoLevel
		}
		if strings.EqualFold(strings.TrimSpace(os.Getenv("CLAUDE_CODE_LOG_FORMAT")), "json") {
			logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
		} else {
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		}
	})
	return &logger
}
