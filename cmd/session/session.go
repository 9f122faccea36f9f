// Package session holds what every RavenLog command needs before it can run:
// the resolved configuration, the logger, the metrics collector and the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/cluster"
	"github.com/ajkula/ravenlog/pkg/config"
	"github.com/ajkula/ravenlog/pkg/logging"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/metrics"
	"github.com/ajkula/ravenlog/pkg/store"
)

// ErrStoreDisabled is returned by Store when store.enable is false
var ErrStoreDisabled = errors.New("store is disabled")

// flagKeys binds command flags to configuration keys. A flag only overrides
// the file when it was set on the command line.
var flagKeys = map[string]string{
	"format":           "detector.log_format",
	"policy":           "detector.parse_policy",
	"workers":          "detector.workers",
	"pvalue-threshold": "detector.pvalue_threshold",
	"cluster":          "cluster.enable",
	"k":                "cluster.k",
	"seed":             "cluster.seed",
	"profile":          "profile.path",
	"db":               "store.path",
	"output":           "reports.output_dir",
	"metrics-file":     "metrics.textfile",
}

// Session is the per-invocation runtime
type Session struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Out     *ConsoleFormatter
	Verbose bool

	store *store.Store
}

// Load resolves the configuration for cmd: file (or defaults), then
// RAVENLOG_* environment variables, then explicit flags.
func Load(cmd *cobra.Command) (*Session, error) {
	root := cmd.Root().PersistentFlags()
	configFile, _ := root.GetString("config")
	verbose, _ := root.GetBool("verbose")
	quiet, _ := root.GetBool("quiet")
	noColor, _ := root.GetBool("no-color")

	out := NewConsoleFormatter(noColor, quiet)

	v := config.NewViper(configFile)
	var path string
	if err := v.ReadInConfig(); err == nil {
		path = v.ConfigFileUsed()
	} else {
		// an explicit --config that is missing is an error, a missing default is not
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg *config.Config
	if path == "" {
		cfg = config.CreateDefaultConfig()
		if verbose {
			out.PrintWarning("No configuration file found, using defaults")
		}
	} else {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if verbose {
			out.PrintInfo(fmt.Sprintf("Using config file: %s", path))
		}
	}

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}
	config.ApplyEnvOverrides(cfg, v)
	if f := cmd.Flags().Lookup("metrics-file"); f != nil && f.Changed {
		cfg.Metrics.Enable = true
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if noColor {
		cfg.Output.Colors = false
	}
	if !cfg.Output.Colors {
		out.noColor = true
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &Session{
		Config:  cfg,
		Logger:  logger.With(zap.String("command", cmd.Name())),
		Metrics: metrics.NewCollector(),
		Out:     out,
		Verbose: verbose,
	}, nil
}

// Store opens the configured SQLite store on first use
func (s *Session) Store() (*store.Store, error) {
	if !s.Config.Store.Enable {
		return nil, ErrStoreDisabled
	}
	if s.store == nil {
		st, err := store.Open(s.Config.Store.Path)
		if err != nil {
			return nil, err
		}
		s.store = st
		s.Logger.Debug("store opened", zap.String("path", s.Config.Store.Path))
	}
	return s.store, nil
}

// LogFormat parses the configured log format
func (s *Session) LogFormat() (logparse.Format, error) {
	return logparse.ParseFormat(s.Config.Detector.LogFormat)
}

// ReaderConfig builds the reader settings for the configured grammar and
// parse policy
func (s *Session) ReaderConfig() (logparse.ReaderConfig, error) {
	format, err := s.LogFormat()
	if err != nil {
		return logparse.ReaderConfig{}, err
	}
	policy, err := logparse.ParsePolicy(s.Config.Detector.ParsePolicy)
	if err != nil {
		return logparse.ReaderConfig{}, err
	}
	return logparse.ReaderConfig{
		Format:              format,
		Policy:              policy,
		CancelCheckInterval: s.Config.Detector.CancelCheckInterval,
		ProgressInterval:    s.Config.Detector.ProgressInterval,
		Logger:              s.Logger,
		Metrics:             s.Metrics,
	}, nil
}

// DetectorConfig builds the detector settings
func (s *Session) DetectorConfig() (anomaly.DetectorConfig, error) {
	format, err := s.LogFormat()
	if err != nil {
		return anomaly.DetectorConfig{}, err
	}

	cacheSize := s.Config.Detector.CacheSize
	if cacheSize == 0 {
		cacheSize = -1
	}

	d := s.Config.Detector
	return anomaly.DetectorConfig{
		Format: format,
		Scorer: anomaly.ScorerConfig{
			Workers:             d.Workers,
			CancelCheckInterval: d.CancelCheckInterval,
			CacheSize:           cacheSize,
			PValueThreshold:     d.PValueThreshold,
		},
		Cluster: cluster.Options{
			Seed:          s.Config.Cluster.Seed,
			MaxIterations: s.Config.Cluster.MaxIterations,
		},
		Logger:  s.Logger,
		Metrics: s.Metrics,
	}, nil
}

// LoadedProfile is a profile plus where it came from
type LoadedProfile struct {
	Profile *anomaly.Profile
	// ID of the stored profile, empty when read from a file
	ID     string
	Origin string
}

// LoadProfile reads the profile from profileID in the store when given,
// otherwise from the configured file, otherwise the latest stored one.
func (s *Session) LoadProfile(ctx context.Context, profileID string) (*LoadedProfile, error) {
	if profileID != "" {
		st, err := s.Store()
		if err != nil {
			return nil, err
		}
		rec, err := st.GetProfile(ctx, profileID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", profileID, err)
		}
		return &LoadedProfile{Profile: rec.Profile, ID: rec.ID, Origin: "store"}, nil
	}

	path := s.Config.Profile.Path
	if _, err := os.Stat(path); err == nil {
		p, err := anomaly.LoadProfile(path)
		if err != nil {
			return nil, err
		}
		return &LoadedProfile{Profile: p, Origin: path}, nil
	}

	st, err := s.Store()
	if err != nil {
		return nil, fmt.Errorf("no profile at %s and %w", path, err)
	}
	rec, err := st.LatestProfile(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no profile at %s and none stored, run fit first: %w", path, anomaly.ErrUnfittedModel)
		}
		return nil, err
	}
	return &LoadedProfile{Profile: rec.Profile, ID: rec.ID, Origin: "store"}, nil
}

// Close writes the metrics textfile when enabled, closes the store and
// flushes the logger
func (s *Session) Close() error {
	var errs []error
	if s.Config.Metrics.Enable {
		if err := s.Metrics.WriteTextfile(s.Config.Metrics.Textfile); err != nil {
			errs = append(errs, err)
		} else {
			s.Logger.Debug("metrics written", zap.String("path", s.Config.Metrics.Textfile))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	_ = s.Logger.Sync()
	return errors.Join(errs...)
}
