package anomaly

import (
	"context"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/pkg/cluster"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/metrics"
)

// Model is a request anomaly model that learns from one record sequence and
// scores others
type Model interface {
	Fit(ctx context.Context, records iter.Seq2[logparse.LogRecord, error]) error
	Predict(ctx context.Context, records []logparse.LogRecord) ([]ScoreVector, error)
}

// DetectorConfig tunes a Detector
type DetectorConfig struct {
	Format  logparse.Format
	Scorer  ScorerConfig
	Cluster cluster.Options
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Detector owns exactly one profile and the score table of its last
// prediction
type Detector struct {
	cfg    DetectorConfig
	logger *zap.Logger

	mu      sync.RWMutex
	profile *Profile
	scorer  *Scorer
	last    []ScoreVector
}

var _ Model = (*Detector)(nil)

// NewDetector creates an unfitted detector
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Scorer.Logger == nil {
		cfg.Scorer.Logger = cfg.Logger
	}
	if cfg.Scorer.Metrics == nil {
		cfg.Scorer.Metrics = cfg.Metrics
	}
	if cfg.Cluster.Seed == 0 && cfg.Cluster.MaxIterations == 0 {
		cfg.Cluster = cluster.DefaultOptions()
	}
	return &Detector{cfg: cfg, logger: cfg.Logger}
}

// Fit learns a new profile, replacing any previous one and its scores
func (d *Detector) Fit(ctx context.Context, records iter.Seq2[logparse.LogRecord, error]) error {
	start := time.Now()
	profile, err := Fit(ctx, records, FitOptions{
		Format:              d.cfg.Format,
		CancelCheckInterval: d.cfg.Scorer.CancelCheckInterval,
		Logger:              d.logger,
	})
	if err != nil {
		return err
	}
	d.observe("fit", start)
	return d.Load(profile)
}

// Load adopts an existing profile, for instance one read from disk
func (d *Detector) Load(profile *Profile) error {
	scorer, err := NewScorer(profile, d.cfg.Scorer)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.profile = profile
	d.scorer = scorer
	d.last = nil
	d.mu.Unlock()
	return nil
}

// Profile returns the fitted profile, or nil
func (d *Detector) Profile() *Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.profile
}

// Predict scores records against the profile and keeps the result for KMeans
func (d *Detector) Predict(ctx context.Context, records []logparse.LogRecord) ([]ScoreVector, error) {
	d.mu.RLock()
	scorer := d.scorer
	d.mu.RUnlock()
	if scorer == nil {
		return nil, ErrUnfittedModel
	}

	start := time.Now()
	scores, err := scorer.ScoreAll(ctx, records)
	if err != nil {
		return nil, err
	}
	d.observe("predict", start)

	d.mu.Lock()
	if d.scorer == scorer {
		d.last = scores
	}
	d.mu.Unlock()

	return scores, nil
}

// KMeans clusters the most recent score table into k groups
func (d *Detector) KMeans(k int) ([]int, error) {
	d.mu.RLock()
	fitted, last := d.profile != nil, d.last
	d.mu.RUnlock()

	if !fitted {
		return nil, ErrUnfittedModel
	}
	if last == nil {
		return nil, ErrNoScores
	}

	points := make([][]float64, len(last))
	for i, v := range last {
		points[i] = v.Numeric()
	}
	return d.Cluster(points, k)
}

// Cluster groups arbitrary score points, such as a table assembled from
// several Predict calls, with the detector's clustering options
func (d *Detector) Cluster(points [][]float64, k int) ([]int, error) {
	start := time.Now()
	labels, err := cluster.KMeans(points, k, d.cfg.Cluster)
	if err != nil {
		return nil, err
	}
	d.observe("kmeans", start)
	return labels, nil
}

func (d *Detector) observe(phase string, start time.Time) {
	elapsed := time.Since(start)
	d.logger.Debug("phase complete", zap.String("phase", phase), zap.Duration("elapsed", elapsed))
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.PhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
	}
}
