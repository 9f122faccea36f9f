package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajkula/ravenlog/pkg/metrics"
)

func newScorer(t *testing.T, p *Profile, cfg ScorerConfig) *Scorer {
	t.Helper()
	s, err := NewScorer(p, cfg)
	require.NoError(t, err)
	return s
}

func TestLengthFlag(t *testing.T) {
	s := newScorer(t, &Profile{LengthMean: 10, LengthStd: 2}, ScorerConfig{})

	long := s.Score(records("/" + string(make([]byte, 19)))[0])
	assert.True(t, long.URILengthFlag)

	short := s.Score(records("/abcdefghijkl")[0])
	assert.False(t, short.URILengthFlag)

	edge := s.Score(records("/abcdefghijklm")[0]) // exactly mean + 2*std
	assert.False(t, edge.URILengthFlag)
}

func TestTrainingDataWithinTwoSigmaIsNotFlagged(t *testing.T) {
	p := build(t, trainingURLs...)
	s := newScorer(t, p, ScorerConfig{})

	for _, rec := range records(trainingURLs...) {
		if float64(len(rec.URL)) <= p.LengthThreshold() {
			assert.False(t, s.Score(rec).URILengthFlag, rec.URL)
		}
	}
}

func TestCharPValue(t *testing.T) {
	p := build(t, "aaaa")
	require.Equal(t, CharDistribution{1, 0, 0, 0, 0, 0}, *p.ICD)

	s := newScorer(t, p, ScorerConfig{})

	same := s.Score(records("aaa")[0]).CharDistPValue
	assert.True(t, same.Valid)
	assert.InDelta(t, 1.0, same.Value, 1e-12)

	// observed mass where the profile expects none
	other := s.Score(records("ab")[0]).CharDistPValue
	assert.Equal(t, Known(0), other)

	empty := s.Score(records("")[0]).CharDistPValue
	assert.Equal(t, NA, empty)
}

func TestCharPValueRange(t *testing.T) {
	s := newScorer(t, build(t, trainingURLs...), ScorerConfig{})

	for _, u := range []string{"/index.html", "/x", "/%27%20OR%201=1--", "/aaaaaaaaaaaaaaaaaaaaaaaaaaaa"} {
		p := s.Score(records(u)[0]).CharDistPValue
		require.True(t, p.Valid, u)
		assert.GreaterOrEqual(t, p.Value, 0.0, u)
		assert.LessOrEqual(t, p.Value, 1.0, u)
	}
}

func TestCharPValueWithoutCharModel(t *testing.T) {
	s := newScorer(t, build(t, ""), ScorerConfig{})
	assert.Equal(t, NA, s.Score(records("/abc")[0]).CharDistPValue)
}

func TestParamNovelty(t *testing.T) {
	s := newScorer(t, build(t, "/s?x=1&y=2"), ScorerConfig{})

	tests := []struct {
		url      string
		setNovel bool
		seqNovel bool
	}{
		{"/s?x=5&y=6", false, false},
		{"/s?y=3&x=4", false, true},
		{"/s?z=1", true, true},
		{"/s?x=1", true, true},
		{"/s", false, false},
		{"/s?", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			v := s.Score(records(tt.url)[0])
			assert.Equal(t, tt.setNovel, v.ParamSetNovel)
			assert.Equal(t, tt.seqNovel, v.ParamListNovel)
		})
	}
}

func TestParamNoveltyNormalisesLoadedKeySets(t *testing.T) {
	p := &Profile{
		KnownParamKeySets:  [][]string{{"b", "a", "b"}},
		KnownParamKeyLists: [][]string{{"b", "a"}},
	}
	s := newScorer(t, p, ScorerConfig{})

	v := s.Score(records("/s?b=1&a=2")[0])
	assert.False(t, v.ParamSetNovel)
	assert.False(t, v.ParamListNovel)

	v = s.Score(records("/s?a=1&b=2")[0])
	assert.False(t, v.ParamSetNovel)
	assert.True(t, v.ParamListNovel)
}

func TestScoreAllIsDeterministicAndAligned(t *testing.T) {
	p := build(t, trainingURLs...)

	var urls []string
	for i := 0; i < 3000; i++ {
		urls = append(urls, fmt.Sprintf("/item/%d?id=%d&q=%s", i, i, string(rune('a'+i%26))))
	}
	recs := records(urls...)

	parallel := newScorer(t, p, ScorerConfig{Workers: 8, CancelCheckInterval: 100})
	serial := newScorer(t, p, ScorerConfig{Workers: 1, CacheSize: -1})

	a, err := parallel.ScoreAll(context.Background(), recs)
	require.NoError(t, err)
	b, err := serial.ScoreAll(context.Background(), recs)
	require.NoError(t, err)

	require.Len(t, a, len(recs))
	assert.Equal(t, a, b)
	for i, rec := range recs {
		assert.Equal(t, serial.Score(rec), a[i])
	}
}

func TestScoreAllCancelled(t *testing.T) {
	s := newScorer(t, build(t, trainingURLs...), ScorerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scores, err := s.ScoreAll(ctx, records(trainingURLs...))
	assert.Nil(t, scores)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestScoreAllMetrics(t *testing.T) {
	m := metrics.NewCollector()
	s := newScorer(t, build(t, "/s?a=1"), ScorerConfig{Metrics: m})

	_, err := s.ScoreAll(context.Background(), records("/s?a=2", "/s?b=1"))
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsScored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnomaliesFlagged.WithLabelValues(SignalParamSet)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnomaliesFlagged.WithLabelValues(SignalParamList)))
}

func TestNewScorerRequiresProfile(t *testing.T) {
	_, err := NewScorer(nil, ScorerConfig{})
	assert.True(t, errors.Is(err, ErrUnfittedModel))
}

func TestPValueJSON(t *testing.T) {
	data, err := json.Marshal(ScoreVector{CharDistPValue: NA})
	require.NoError(t, err)
	assert.JSONEq(t, `{"uri_length":false,"char_dist_pvalue":null,"param_sets_novel":false,"param_lists_novel":false}`, string(data))

	var v ScoreVector
	require.NoError(t, json.Unmarshal([]byte(`{"char_dist_pvalue":0.25}`), &v))
	assert.Equal(t, Known(0.25), v.CharDistPValue)

	assert.Equal(t, "N/A", NA.String())
	assert.Equal(t, "0.25", Known(0.25).String())
}

func TestSignals(t *testing.T) {
	v := ScoreVector{URILengthFlag: true, CharDistPValue: Known(0.001), ParamListNovel: true}

	assert.Equal(t, []string{SignalURILength, SignalParamList}, v.Signals(0))
	assert.Equal(t, []string{SignalURILength, SignalCharDist, SignalParamList}, v.Signals(0.01))
	assert.Equal(t, []float64{1, 0.001, 0, 1}, v.Numeric())
	assert.Equal(t, []float64{0, 0, 0, 0}, ScoreVector{}.Numeric())
	assert.False(t, ScoreVector{CharDistPValue: NA}.Anomalous(0.5))
}

func TestProfileRoundTripKeepsPredictions(t *testing.T) {
	p := build(t, trainingURLs...)
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, SaveProfile(p, path))

	loaded, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, p.LengthMean, loaded.LengthMean)
	assert.Equal(t, p.LengthStd, loaded.LengthStd)
	assert.Equal(t, *p.ICD, *loaded.ICD)
	assert.Equal(t, p.KnownParamKeySets, loaded.KnownParamKeySets)
	assert.Equal(t, p.KnownParamKeyLists, loaded.KnownParamKeyLists)
	assert.True(t, p.Metadata.CreatedAt.Equal(loaded.Metadata.CreatedAt))

	probe := records("/index.html", "/search?q=x", "/search?x=1&q=2", "/../../etc/passwd", "")
	before, err := newScorer(t, p, ScorerConfig{}).ScoreAll(context.Background(), probe)
	require.NoError(t, err)
	after, err := newScorer(t, loaded, ScorerConfig{}).ScoreAll(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestProfileWithoutCharModelRoundTrip(t *testing.T) {
	data, err := MarshalProfile(build(t, ""))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"idealized_char_distribution": null`)

	loaded, err := UnmarshalProfile(data)
	require.NoError(t, err)
	assert.Nil(t, loaded.ICD)
}

func TestUnmarshalProfileRejectsGarbage(t *testing.T) {
	_, err := UnmarshalProfile([]byte("{"))
	assert.Error(t, err)

	_, err = UnmarshalProfile([]byte(`{"length_std":-1}`))
	assert.Error(t, err)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
