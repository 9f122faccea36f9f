package anomaly

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajkula/ravenlog/pkg/cluster"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/metrics"
)

func TestDetectorPredictBeforeFit(t *testing.T) {
	d := NewDetector(DetectorConfig{})

	scores, err := d.Predict(context.Background(), records("/a"))
	assert.Nil(t, scores)
	assert.True(t, errors.Is(err, ErrUnfittedModel))

	_, err = d.KMeans(2)
	assert.True(t, errors.Is(err, ErrUnfittedModel))
}

func TestDetectorLifecycle(t *testing.T) {
	m := metrics.NewCollector()
	d := NewDetector(DetectorConfig{Format: logparse.FormatCLF, Metrics: m})

	require.NoError(t, d.Fit(context.Background(), seq(records(trainingURLs...))))
	require.NotNil(t, d.Profile())
	assert.Equal(t, "CLF", d.Profile().Metadata.LogFormat)

	_, err := d.KMeans(2)
	assert.True(t, errors.Is(err, ErrNoScores))

	probe := records("/index.html", "/about", "/search?q=go&page=3", "/cgi-bin/x?cmd=%2Fbin%2Fsh&evil=1&more=2")
	first, err := d.Predict(context.Background(), probe)
	require.NoError(t, err)
	second, err := d.Predict(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	labels, err := d.KMeans(2)
	require.NoError(t, err)
	require.Len(t, labels, len(probe))
	for _, l := range labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 2)
	}

	_, err = d.KMeans(0)
	assert.True(t, errors.Is(err, cluster.ErrInvalidK))

	// fit, predict and kmeans each observed
	assert.Equal(t, 3, testutil.CollectAndCount(m.PhaseDuration))
}

func TestDetectorClusterAcrossPredictions(t *testing.T) {
	d := NewDetector(DetectorConfig{Format: logparse.FormatCLF})
	require.NoError(t, d.Fit(context.Background(), seq(records(trainingURLs...))))

	var points [][]float64
	for _, chunk := range [][]string{{"/index.html", "/about"}, {"/cgi-bin/x?cmd=%2Fbin%2Fsh&evil=1"}} {
		scores, err := d.Predict(context.Background(), records(chunk...))
		require.NoError(t, err)
		for _, v := range scores {
			points = append(points, v.Numeric())
		}
	}

	labels, err := d.Cluster(points, 2)
	require.NoError(t, err)
	require.Len(t, labels, 3)

	// KMeans only sees the last prediction
	last, err := d.KMeans(1)
	require.NoError(t, err)
	assert.Len(t, last, 1)
}
