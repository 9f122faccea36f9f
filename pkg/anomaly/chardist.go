package anomaly

import (
	"sort"
)

// RankPartition groups the 256 byte ranks, most frequent first, into the six
// buckets of a character distribution: rank 0, ranks 1-3, 4-6, 7-11, 12-15
// and 16-255.
var RankPartition = [6]int{1, 3, 3, 5, 4, 240}

// CharDistribution is a six bucket character distribution
type CharDistribution [6]float64

// Sum returns the total mass of the distribution
func (d CharDistribution) Sum() float64 {
	var total float64
	for _, v := range d {
		total += v
	}
	return total
}

// byteCounts counts every byte value of s
func byteCounts(s string) [256]float64 {
	var counts [256]float64
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	return counts
}

// collapse sorts the 256 bins descending and sums them per RankPartition
func collapse(bins [256]float64) CharDistribution {
	sorted := bins[:]
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var out CharDistribution
	rank := 0
	for bucket, width := range RankPartition {
		for i := 0; i < width; i++ {
			out[bucket] += sorted[rank]
			rank++
		}
	}
	return out
}
