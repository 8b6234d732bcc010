// Package features holds the five per-transaction risk extractors. Each
// extractor reads the sender's graph neighbourhood through a narrow
// interface and returns a 0-100 sub-score plus human-readable flags.
package features

import (
	"math"
	"sort"
	"strings"
)

// haversineKm is the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dp/2)*math.Sin(dp/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)))
}

// percentile with linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// iqrOutlier applies the Tukey fence test (k=1.5) against the sample.
func iqrOutlier(value float64, sample []float64) bool {
	if len(sample) < 4 {
		return false
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	return value < q1-1.5*iqr || value > q3+1.5*iqr
}

// hammingDistance counts differing characters between two mask strings,
// left-padding the shorter with zeros.
func hammingDistance(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	width := len(a)
	if len(b) > width {
		width = len(b)
	}
	a = zfill(a, width)
	b = zfill(b, width)
	n := 0
	for i := 0; i < width; i++ {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

func zfill(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
