package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global zerolog logger.
// Output always goes to stderr or the log file: stdout is reserved for the
// native messaging protocol.
func Setup(cfg config.Logging, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := parseLevel(cfg.Level)
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(writer(cfg))
}

func writer(cfg config.Logging) io.Writer {
	if cfg.File == "" {
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		log.Warn().Err(err).Str("file", cfg.File).Msg("Cannot create log directory, logging to stderr")
		return zerolog.ConsoleWriter{Out: os.Stderr}
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
	}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
