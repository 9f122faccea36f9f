// Package cluster groups numeric vectors with seeded k-means
package cluster

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultSeed makes clustering reproducible unless overridden
	DefaultSeed = 42

	// DefaultK is the number of clusters used when none is configured
	DefaultK = 2

	// DefaultMaxIterations bounds Lloyd's iterations
	DefaultMaxIterations = 100
)

// ErrInvalidK is returned for k < 1
var ErrInvalidK = errors.New("k must be at least 1")

// Options tunes KMeans
type Options struct {
	Seed          int64
	MaxIterations int
}

// DefaultOptions returns the reproducible defaults
func DefaultOptions() Options {
	return Options{Seed: DefaultSeed, MaxIterations: DefaultMaxIterations}
}

// KMeans assigns every point a label in [0,k). Initial centroids are k
// distinct points drawn with the seeded generator; when fewer than k distinct
// points exist only that many clusters are formed.
func KMeans(points [][]float64, k int, opts Options) ([]int, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	labels := make([]int, len(points))
	if len(points) == 0 {
		return labels, nil
	}

	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("point %d has %d dimensions, expected %d", i, len(p), dim)
		}
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	centroids := initialCentroids(points, k, opts.Seed)
	k = len(centroids)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		changed := iter == 0
		for i, p := range points {
			best := nearest(p, centroids)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for j := range sums {
			sums[j] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for j := range centroids {
			// an emptied cluster keeps its previous centroid
			if counts[j] > 0 {
				floats.Scale(1/float64(counts[j]), sums[j])
				centroids[j] = sums[j]
			}
		}
	}

	return labels, nil
}

// initialCentroids picks up to k distinct points in a seeded random order
func initialCentroids(points [][]float64, k int, seed int64) [][]float64 {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	order := rng.Perm(len(points))

	var centroids [][]float64
	for _, idx := range order {
		if len(centroids) == k {
			break
		}
		candidate := points[idx]
		duplicate := false
		for _, c := range centroids {
			if floats.Equal(c, candidate) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			centroids = append(centroids, append([]float64(nil), candidate...))
		}
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) int {
	best := 0
	bestDist := floats.Distance(p, centroids[0], 2)
	for j := 1; j < len(centroids); j++ {
		if d := floats.Distance(p, centroids[j], 2); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}
