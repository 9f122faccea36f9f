package config

import (
	"time"
)

// CreateDefaultConfig creates the complete default configuration
func CreateDefaultConfig() *Config {
	return &Config{
		Detector: createDefaultDetectorConfig(),
		Cluster:  createDefaultClusterConfig(),
		Profile:  ProfileConfig{Path: "./profile.json"},
		Store:    StoreConfig{Enable: true, Path: "./ravenlog.db"},
		Capture:  createDefaultCaptureConfig(),
		Reports:  createDefaultReportsConfig(),
		Output:   createDefaultOutputConfig(),
		Logging:  createDefaultLoggingConfig(),
		Metrics:  MetricsConfig{Enable: false, Textfile: "./ravenlog.prom"},
	}
}

func createDefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		LogFormat:           "CLF",
		ParsePolicy:         "skip",
		Workers:             0,
		CancelCheckInterval: 1024,
		PValueThreshold:     0,
		CacheSize:           4096,
		ProgressInterval:    100000,
	}
}

func createDefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		Enable:        false,
		K:             2,
		Seed:          42,
		MaxIterations: 100,
	}
}

func createDefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Format:           "pcapng",
		Transport:        "TCP",
		ProgressInterval: 1000,
	}
}

func createDefaultReportsConfig() ReportsConfig {
	return ReportsConfig{
		Formats:       []string{"json", "csv", "txt"},
		OutputDir:     "./reports",
		OnlyAnomalies: true,
	}
}

func createDefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Verbosity:  "normal",
		Colors:     true,
		ShowBanner: true,
		Watch: WatchConfig{
			BatchSize:     256,
			FlushInterval: 2 * time.Second,
		},
	}
}

func createDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "text",
		OutputFile: "",
		Rotation:   false,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   false,
	}
}
