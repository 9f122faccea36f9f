package anomaly

import (
	"context"
	"fmt"
	"math"
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/metrics"
)

const (
	// LengthSigmaMultiplier is how many standard deviations above the mean
	// a URL may be before it is flagged
	LengthSigmaMultiplier = 2

	// chiSquareDoF is the degrees of freedom of the six bucket test
	chiSquareDoF = 5

	// DefaultCacheSize bounds the per-scorer URL memo
	DefaultCacheSize = 4096
)

// ScorerConfig tunes a Scorer
type ScorerConfig struct {
	// Workers bounds parallel scoring, 0 means GOMAXPROCS
	Workers int

	// CancelCheckInterval defaults to logparse.DefaultCancelCheckInterval
	CancelCheckInterval int

	// CacheSize of the p-value memo, negative disables it
	CacheSize int

	// PValueThreshold only drives the anomaly metric, 0 disables it
	PValueThreshold float64

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Scorer scores records against one profile. It is safe for concurrent use.
type Scorer struct {
	profile *Profile
	sets    *catalog
	lists   *catalog
	chi2    distuv.ChiSquared
	cache   *lru.Cache[string, PValue]
	cfg     ScorerConfig
	logger  *zap.Logger
}

// NewScorer prepares a scorer for profile
func NewScorer(profile *Profile, cfg ScorerConfig) (*Scorer, error) {
	if profile == nil {
		return nil, ErrUnfittedModel
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.CancelCheckInterval <= 0 {
		cfg.CancelCheckInterval = logparse.DefaultCancelCheckInterval
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	s := &Scorer{
		profile: profile,
		sets:    setCatalogFrom(profile.KnownParamKeySets),
		lists:   catalogFrom(profile.KnownParamKeyLists),
		chi2:    distuv.ChiSquared{K: chiSquareDoF},
		cfg:     cfg,
		logger:  cfg.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, PValue](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create score cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Profile returns the profile the scorer was built for
func (s *Scorer) Profile() *Profile {
	return s.profile
}

// Score computes the vector of a single record
func (s *Scorer) Score(rec logparse.LogRecord) ScoreVector {
	u := rec.URL

	v := ScoreVector{
		URILengthFlag:  float64(len(u)) > s.profile.LengthThreshold(),
		CharDistPValue: s.charPValue(u),
	}

	if keys := QueryKeys(u); len(keys) > 0 {
		v.ParamSetNovel = !s.sets.contains(keySet(keys))
		v.ParamListNovel = !s.lists.contains(keys)
	}

	return v
}

// ScoreAll scores records in parallel. The result is index aligned with
// records; on error no partial result is returned.
func (s *Scorer) ScoreAll(ctx context.Context, records []logparse.LogRecord) ([]ScoreVector, error) {
	out := make([]ScoreVector, len(records))
	if len(records) == 0 {
		return out, nil
	}

	chunk := (len(records) + s.cfg.Workers - 1) / s.cfg.Workers
	if chunk < s.cfg.CancelCheckInterval {
		chunk = min(s.cfg.CancelCheckInterval, len(records))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for lo := 0; lo < len(records); lo += chunk {
		hi := min(lo+chunk, len(records))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%s.cfg.CancelCheckInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				out[i] = s.Score(records[i])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scoring aborted: %w", err)
	}

	s.observe(out)
	return out, nil
}

func (s *Scorer) observe(scores []ScoreVector) {
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	m.RecordsScored.Add(float64(len(scores)))
	for _, v := range scores {
		for _, signal := range v.Signals(s.cfg.PValueThreshold) {
			m.AnomaliesFlagged.WithLabelValues(signal).Inc()
		}
	}
}

func (s *Scorer) charPValue(u string) PValue {
	if len(u) == 0 || s.profile.ICD == nil {
		return NA
	}
	if s.cache != nil {
		if p, ok := s.cache.Get(u); ok {
			return p
		}
	}

	p := s.computePValue(u)
	if s.cache != nil {
		s.cache.Add(u, p)
	}
	return p
}

// computePValue runs a chi-square goodness of fit test of the URL's ranked
// byte counts against the idealized distribution scaled to the URL length
func (s *Scorer) computePValue(u string) PValue {
	observed := collapse(byteCounts(u))
	n := float64(len(u))

	var statistic float64
	for i, o := range observed {
		e := s.profile.ICD[i] * n
		switch {
		case e == 0 && o == 0:
			continue
		case e == 0:
			return Known(0)
		}
		d := o - e
		statistic += d * d / e
	}

	p := s.chi2.Survival(statistic)
	if math.IsNaN(p) {
		return Known(0)
	}
	return Known(math.Min(1, math.Max(0, p)))
}
