package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestSetLevelSharedByChildren(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	child := logger.Named("terminal").With(zap.String("session_id", "a"))
	assert.False(t, child.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, child.Level())
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel))

	child.Debug("visible now")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"visible now"`)
	assert.Contains(t, string(data), `"logger":"terminal"`)
	assert.Contains(t, string(data), `"session_id":"a"`)

	assert.Error(t, logger.SetLevel("nope"))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
}

func TestFallbacks(t *testing.T) {
	assert.NotNil(t, NewDefault())
	assert.NotNil(t, NewDevelopment())

	nop := NewNop()
	require.NoError(t, nop.SetLevel("warn"))
	nop.Info("discarded")
	assert.NotNil(t, nop.Named("x"))
}
