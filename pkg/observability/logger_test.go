package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zap.InfoLevel, ParseLevel("whatever"))
}

func TestNewLoggerWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "logs", "node.log")
	l, err := NewLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{out}})
	require.NoError(t, err)
	l.Debug("hello", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
	assert.Contains(t, string(b), `"k":"v"`)
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()
	c := config.LogConfig{
		Level:   "info",
		Outputs: []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: filepath.Join(dir, "rotated.log"),
		},
	}
	l, err := NewLogger(c)
	require.NoError(t, err)
	l.Info("rotated")
	_ = l.Sync()

	_, err = os.Stat(filepath.Join(dir, "rotated.log"))
	assert.NoError(t, err)
}

func TestNamedFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, Named(nil, "bridge"))
	assert.NotNil(t, Named(zap.NewNop(), "bridge"))
}
