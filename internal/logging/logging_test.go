package logging

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/zangezia/DLGuard/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("chatty"))
}

func TestWriterUsesRotatingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "dlguard.log")

	w := writer(config.Logging{File: file, MaxSize: 1, MaxBackups: 2, MaxAge: 3})

	lj, ok := w.(*lumberjack.Logger)
	if assert.True(t, ok) {
		assert.Equal(t, file, lj.Filename)
		assert.Equal(t, 2, lj.MaxBackups)
	}
}

func TestSetupDebugOverridesLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Setup(config.Logging{Level: "error"}, true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Setup(config.Logging{Level: "error"}, false)
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
