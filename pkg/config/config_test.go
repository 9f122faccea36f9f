package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := CreateDefaultConfig()

	assert.Equal(t, "CLF", cfg.Detector.LogFormat)
	assert.Equal(t, "skip", cfg.Detector.ParsePolicy)
	assert.Equal(t, 1024, cfg.Detector.CancelCheckInterval)
	assert.Zero(t, cfg.Detector.PValueThreshold)

	assert.Equal(t, 2, cfg.Cluster.K)
	assert.Equal(t, int64(42), cfg.Cluster.Seed)

	assert.Equal(t, "pcapng", cfg.Capture.Format)
	assert.Equal(t, "TCP", cfg.Capture.Transport)

	assert.Equal(t, 2*time.Second, cfg.Output.Watch.FlushInterval)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		modifyFn func(*Config)
		wantErr  string
	}{
		{
			name:     "unknown log format",
			modifyFn: func(c *Config) { c.Detector.LogFormat = "W3C" },
			wantErr:  "invalid log format",
		},
		{
			name:     "unknown parse policy",
			modifyFn: func(c *Config) { c.Detector.ParsePolicy = "ignore" },
			wantErr:  "invalid parse policy",
		},
		{
			name:     "threshold out of range",
			modifyFn: func(c *Config) { c.Detector.PValueThreshold = 1.5 },
			wantErr:  "p-value threshold",
		},
		{
			name:     "zero k",
			modifyFn: func(c *Config) { c.Cluster.K = 0 },
			wantErr:  "k must be at least 1",
		},
		{
			name:     "unsupported transport",
			modifyFn: func(c *Config) { c.Capture.Transport = "UDP" },
			wantErr:  "invalid transport layer",
		},
		{
			name:     "html report no longer supported",
			modifyFn: func(c *Config) { c.Reports.Formats = []string{"html"} },
			wantErr:  "invalid report format",
		},
		{
			name: "rotation without file",
			modifyFn: func(c *Config) {
				c.Logging.Rotation = true
				c.Logging.OutputFile = ""
			},
			wantErr: "log rotation requires an output file",
		},
		{
			name:     "lower-case combined accepted",
			modifyFn: func(c *Config) { c.Detector.LogFormat = "combined" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CreateDefaultConfig()
			tt.modifyFn(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ravenlog.yaml")
	content := `
detector:
  log_format: Combined
  pvalue_threshold: 0.01
cluster:
  enable: true
output:
  watch:
    flush_interval: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "Combined", cfg.Detector.LogFormat)
	assert.Equal(t, 0.01, cfg.Detector.PValueThreshold)
	assert.Equal(t, "skip", cfg.Detector.ParsePolicy)
	assert.True(t, cfg.Cluster.Enable)
	assert.Equal(t, 2, cfg.Cluster.K)
	assert.Equal(t, 500*time.Millisecond, cfg.Output.Watch.FlushInterval)
}

func TestLoadConfigOrCreateDefault(t *testing.T) {
	cfg, err := LoadConfigOrCreateDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, CreateDefaultConfig(), cfg)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ravenlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detector:\n  parse_policy: maybe\n"), 0644))

	_, err := LoadConfigOrCreateDefault(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ravenlog.yaml")
	cfg := CreateDefaultConfig()
	cfg.Detector.LogFormat = "Combined"
	cfg.Cluster.Seed = 7

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RAVENLOG_DETECTOR_PVALUE_THRESHOLD", "0.05")
	t.Setenv("RAVENLOG_CLUSTER_SEED", "1234")
	t.Setenv("RAVENLOG_STORE_ENABLE", "false")

	cfg := CreateDefaultConfig()
	ApplyEnvOverrides(cfg, NewViper(filepath.Join(t.TempDir(), "none.yaml")))

	assert.Equal(t, 0.05, cfg.Detector.PValueThreshold)
	assert.Equal(t, int64(1234), cfg.Cluster.Seed)
	assert.False(t, cfg.Store.Enable)
	assert.Equal(t, "CLF", cfg.Detector.LogFormat)
}
