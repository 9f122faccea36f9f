package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = "ravenlog.yaml"

// LoadConfig loads configuration from a YAML file. Keys missing from the
// file keep their default values.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultConfigFilename
	}

	yamlData, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s: %w", filename, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := CreateDefaultConfig()
	if err := yaml.Unmarshal(yamlData, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfigOrCreateDefault loads config from file or returns default if not found
func LoadConfigOrCreateDefault(filename string) (*Config, error) {
	cfg, err := LoadConfig(filename)
	if err == nil {
		return cfg, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return CreateDefaultConfig(), nil
	}

	// Other errors (parsing, validation) should be reported
	return nil, err
}

// ValidateConfig validates the configuration for correctness
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}

	if err := validateDetectorConfig(&cfg.Detector); err != nil {
		return fmt.Errorf("detector configuration error: %w", err)
	}

	if err := validateClusterConfig(&cfg.Cluster); err != nil {
		return fmt.Errorf("cluster configuration error: %w", err)
	}

	if err := validateCaptureConfig(&cfg.Capture); err != nil {
		return fmt.Errorf("capture configuration error: %w", err)
	}

	if err := validateReportsConfig(&cfg.Reports); err != nil {
		return fmt.Errorf("reports configuration error: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}

	if cfg.Store.Enable && cfg.Store.Path == "" {
		return fmt.Errorf("store configuration error: path is required when the store is enabled")
	}

	if cfg.Metrics.Enable && cfg.Metrics.Textfile == "" {
		return fmt.Errorf("metrics configuration error: textfile is required when metrics are enabled")
	}

	return nil
}

// validateDetectorConfig validates detector-specific configuration
func validateDetectorConfig(detector *DetectorConfig) error {
	switch strings.ToLower(detector.LogFormat) {
	case "clf", "combined":
	default:
		return fmt.Errorf("invalid log format: %s", detector.LogFormat)
	}

	switch detector.ParsePolicy {
	case "skip", "fail-fast":
	default:
		return fmt.Errorf("invalid parse policy: %s", detector.ParsePolicy)
	}

	if detector.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got: %d", detector.Workers)
	}

	if detector.CancelCheckInterval <= 0 {
		return fmt.Errorf("cancel check interval must be positive, got: %d", detector.CancelCheckInterval)
	}

	if detector.PValueThreshold < 0 || detector.PValueThreshold > 1 {
		return fmt.Errorf("p-value threshold must be within [0,1], got: %v", detector.PValueThreshold)
	}

	if detector.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative, got: %d", detector.CacheSize)
	}

	if detector.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got: %d", detector.ProgressInterval)
	}

	return nil
}

// validateClusterConfig validates the k-means stage configuration
func validateClusterConfig(cluster *ClusterConfig) error {
	if cluster.K < 1 {
		return fmt.Errorf("k must be at least 1, got: %d", cluster.K)
	}

	if cluster.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got: %d", cluster.MaxIterations)
	}

	return nil
}

// validateCaptureConfig validates capture extraction configuration
func validateCaptureConfig(capture *CaptureConfig) error {
	switch capture.Format {
	case "pcap", "pcapng":
	default:
		return fmt.Errorf("invalid capture format: %s", capture.Format)
	}

	if capture.Transport != "TCP" {
		return fmt.Errorf("invalid transport layer: %s", capture.Transport)
	}

	if capture.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got: %d", capture.ProgressInterval)
	}

	return nil
}

// validateReportsConfig validates reports-specific configuration
func validateReportsConfig(reports *ReportsConfig) error {
	if reports.OutputDir == "" {
		return fmt.Errorf("reports output directory is required")
	}

	validFormats := map[string]bool{
		"json": true,
		"csv":  true,
		"txt":  true,
	}

	for _, format := range reports.Formats {
		if !validFormats[format] {
			return fmt.Errorf("invalid report format: %s", format)
		}
	}

	return nil
}

// validateLoggingConfig validates logging configuration
func validateLoggingConfig(logging *LoggingConfig) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[logging.Level] {
		return fmt.Errorf("invalid log level: %s", logging.Level)
	}

	if logging.Format != "text" && logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s", logging.Format)
	}

	if logging.Rotation && logging.OutputFile == "" {
		return fmt.Errorf("log rotation requires an output file")
	}

	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, filename string) error {
	if filename == "" {
		filename = DefaultConfigFilename
	}

	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}

	if err := os.WriteFile(filename, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
