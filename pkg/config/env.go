package config

import (
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "RAVENLOG"

// NewViper returns a viper instance that searches the usual config locations
// and reads RAVENLOG_* environment variables. An explicit file wins over the
// search paths.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultConfigFilename, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.ravenlog")
		v.AddConfigPath("/etc/ravenlog/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyEnvOverrides copies scalar values set through viper (environment or
// flags bound to it) onto cfg. Only keys that are explicitly set are applied.
func ApplyEnvOverrides(cfg *Config, v *viper.Viper) {
	if v == nil || cfg == nil {
		return
	}

	setString(v, "detector.log_format", &cfg.Detector.LogFormat)
	setString(v, "detector.parse_policy", &cfg.Detector.ParsePolicy)
	setInt(v, "detector.workers", &cfg.Detector.Workers)
	setFloat(v, "detector.pvalue_threshold", &cfg.Detector.PValueThreshold)
	setInt(v, "detector.cache_size", &cfg.Detector.CacheSize)

	setBool(v, "cluster.enable", &cfg.Cluster.Enable)
	setInt(v, "cluster.k", &cfg.Cluster.K)
	if v.IsSet("cluster.seed") {
		cfg.Cluster.Seed = v.GetInt64("cluster.seed")
	}

	setString(v, "profile.path", &cfg.Profile.Path)
	setBool(v, "store.enable", &cfg.Store.Enable)
	setString(v, "store.path", &cfg.Store.Path)
	setString(v, "reports.output_dir", &cfg.Reports.OutputDir)
	setString(v, "logging.level", &cfg.Logging.Level)
	setString(v, "logging.format", &cfg.Logging.Format)
	setString(v, "logging.output_file", &cfg.Logging.OutputFile)
	setBool(v, "metrics.enable", &cfg.Metrics.Enable)
	setString(v, "metrics.textfile", &cfg.Metrics.Textfile)
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setFloat(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}
