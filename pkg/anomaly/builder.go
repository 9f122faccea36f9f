package anomaly

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ajkula/ravenlog/pkg/logparse"
)

// Builder accumulates training records into a Profile
type Builder struct {
	lengths   []float64
	charFreqs [256]float64
	nonEmpty  int
	sets      *catalog
	lists     *catalog
	format    string
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{
		sets:  newCatalog(),
		lists: newCatalog(),
	}
}

// SetFormat records the log format in the profile metadata
func (b *Builder) SetFormat(format logparse.Format) {
	b.format = format.String()
}

// Add folds one record into the accumulators
func (b *Builder) Add(rec logparse.LogRecord) {
	u := rec.URL
	b.lengths = append(b.lengths, float64(len(u)))

	if len(u) > 0 {
		counts := byteCounts(u)
		n := float64(len(u))
		for i, c := range counts {
			if c > 0 {
				b.charFreqs[i] += c / n
			}
		}
		b.nonEmpty++
	}

	if keys := QueryKeys(u); len(keys) > 0 {
		b.sets.add(keySet(keys))
		b.lists.add(keys)
	}
}

// Len returns the number of records added
func (b *Builder) Len() int {
	return len(b.lengths)
}

// Build produces the profile. It fails with ErrEmptyTrainingSet when no
// record was added.
func (b *Builder) Build() (*Profile, error) {
	if len(b.lengths) == 0 {
		return nil, ErrEmptyTrainingSet
	}

	p := &Profile{
		KnownParamKeySets:  cloneEntries(b.sets.entries),
		KnownParamKeyLists: cloneEntries(b.lists.entries),
		Metadata: ProfileMetadata{
			TrainingRecords: len(b.lengths),
			NonEmptyURLs:    b.nonEmpty,
			CreatedAt:       time.Now().UTC(),
			LogFormat:       b.format,
		},
	}

	if len(b.lengths) == 1 {
		p.LengthMean = b.lengths[0]
	} else {
		p.LengthMean, p.LengthStd = stat.MeanStdDev(b.lengths, nil)
	}

	if b.nonEmpty > 0 {
		var avg [256]float64
		for i, f := range b.charFreqs {
			avg[i] = f / float64(b.nonEmpty)
		}
		icd := collapse(avg)
		p.ICD = &icd
	}

	return p, nil
}

// FitOptions tunes Fit
type FitOptions struct {
	Format              logparse.Format
	CancelCheckInterval int
	Logger              *zap.Logger
}

// Fit builds a profile from a record sequence in a single pass. Any error
// carried by the sequence aborts the fit.
func Fit(ctx context.Context, records iter.Seq2[logparse.LogRecord, error], opts FitOptions) (*Profile, error) {
	interval := opts.CancelCheckInterval
	if interval <= 0 {
		interval = logparse.DefaultCancelCheckInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := NewBuilder()
	if opts.Format != 0 {
		b.SetFormat(opts.Format)
	}

	for rec, err := range records {
		if err != nil {
			return nil, fmt.Errorf("fit aborted after %d records: %w", b.Len(), err)
		}
		b.Add(rec)
		if b.Len()%interval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("fit aborted after %d records: %w", b.Len(), err)
			}
		}
	}

	p, err := b.Build()
	if err != nil {
		return nil, err
	}

	logger.Debug("profile built",
		zap.Int("records", p.Metadata.TrainingRecords),
		zap.Int("non_empty_urls", p.Metadata.NonEmptyURLs),
		zap.Float64("length_mean", p.LengthMean),
		zap.Float64("length_std", p.LengthStd),
		zap.Int("param_sets", len(p.KnownParamKeySets)),
		zap.Int("param_lists", len(p.KnownParamKeyLists)))

	return p, nil
}

func cloneEntries(entries [][]string) [][]string {
	out := make([][]string, len(entries))
	for i, e := range entries {
		out[i] = append([]string(nil), e...)
	}
	return out
}
