package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/pkg/config"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ravenlog.log")
	logger, err := New(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		OutputFile: path,
		Rotation:   true,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("profile fitted", zap.Int("records", 12))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"profile fitted"`)
	assert.Contains(t, string(data), `"records":12`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
