package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("bogus"))
}

func TestLogBeforeInitializeDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		ErrorWithFields("no logger yet", errors.New("boom"))
		WarnWithFields("no logger yet", nil)
	})
}

func TestInitialize(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, Initialize("error", logFile))
	assert.NotNil(t, Log)
	assert.NotNil(t, SugaredLog)

	assert.NotPanics(t, func() {
		Log.Info("filtered out at error level", WithUserID("u1"), WithRoom("post:1"))
	})
	_ = Close()
}
