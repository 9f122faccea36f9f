package config

import (
	"time"
)

// Config represents the main RavenLog configuration
type Config struct {
	// Anomaly detector settings
	Detector DetectorConfig `yaml:"detector" json:"detector"`

	// Optional k-means stage over score vectors
	Cluster ClusterConfig `yaml:"cluster" json:"cluster"`

	// Learned profile location
	Profile ProfileConfig `yaml:"profile" json:"profile"`

	// SQLite persistence of profiles and scoring runs
	Store StoreConfig `yaml:"store" json:"store"`

	// Offline packet-capture extraction
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// Reporting configuration
	Reports ReportsConfig `yaml:"reports" json:"reports"`

	// Output and UI configuration
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Prometheus textfile metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// DetectorConfig defines parsing and scoring behavior
type DetectorConfig struct {
	// Access log grammar (CLF, Combined)
	LogFormat string `yaml:"log_format" json:"log_format"`

	// What to do with lines that do not match the grammar (skip, fail-fast)
	ParsePolicy string `yaml:"parse_policy" json:"parse_policy"`

	// Scoring workers (0 = one per CPU)
	Workers int `yaml:"workers" json:"workers"`

	// Records processed between cancellation checks
	CancelCheckInterval int `yaml:"cancel_check_interval" json:"cancel_check_interval"`

	// Chi-square p-value below which a request counts as anomalous (0 = disabled)
	PValueThreshold float64 `yaml:"pvalue_threshold" json:"pvalue_threshold"`

	// Distinct URLs memoised per scorer (0 = no cache)
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// Log a progress line every N records (0 = never)
	ProgressInterval int `yaml:"progress_interval" json:"progress_interval"`
}

// ClusterConfig defines the k-means stage
type ClusterConfig struct {
	Enable        bool  `yaml:"enable" json:"enable"`
	K             int   `yaml:"k" json:"k"`
	Seed          int64 `yaml:"seed" json:"seed"`
	MaxIterations int   `yaml:"max_iterations" json:"max_iterations"`
}

// ProfileConfig defines where the learned profile lives
type ProfileConfig struct {
	// JSON profile file written by fit and read by score/watch
	Path string `yaml:"path" json:"path"`
}

// StoreConfig defines the SQLite store
type StoreConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Path   string `yaml:"path" json:"path"`
}

// CaptureConfig defines the offline capture extractor
type CaptureConfig struct {
	// Capture file format (pcap, pcapng)
	Format string `yaml:"format" json:"format"`

	// Transport layer to keep (TCP)
	Transport string `yaml:"transport" json:"transport"`

	// Log a progress line every N packets
	ProgressInterval int `yaml:"progress_interval" json:"progress_interval"`
}

// WatchConfig defines follow-mode batching
type WatchConfig struct {
	// Maximum lines scored together
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Flush a partial batch after this long
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// ReportsConfig defines reporting configuration
type ReportsConfig struct {
	// Output formats to generate (json, csv, txt)
	Formats []string `yaml:"formats" json:"formats"`

	// Output directory for reports
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Only include flagged rows in text reports
	OnlyAnomalies bool `yaml:"only_anomalies" json:"only_anomalies"`
}

// OutputConfig defines output and UI configuration
type OutputConfig struct {
	// Output verbosity level (silent, minimal, normal, verbose, debug)
	Verbosity string `yaml:"verbosity" json:"verbosity"`

	// Enable colored output
	Colors bool `yaml:"colors" json:"colors"`

	// Show ASCII art banner
	ShowBanner bool `yaml:"show_banner" json:"show_banner"`

	// Follow-mode settings
	Watch WatchConfig `yaml:"watch" json:"watch"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output file (empty = stderr)
	OutputFile string `yaml:"output_file" json:"output_file"`

	// Enable log rotation
	Rotation bool `yaml:"rotation" json:"rotation"`

	// Maximum log file size in MB
	MaxSize int `yaml:"max_size" json:"max_size"`

	// Maximum number of old log files to retain
	MaxBackups int `yaml:"max_backups" json:"max_backups"`

	// Maximum age of log files in days
	MaxAge int `yaml:"max_age" json:"max_age"`

	// Compress rotated files
	Compress bool `yaml:"compress" json:"compress"`
}

// MetricsConfig defines Prometheus textfile output
type MetricsConfig struct {
	Enable   bool   `yaml:"enable" json:"enable"`
	Textfile string `yaml:"textfile" json:"textfile"`
}
