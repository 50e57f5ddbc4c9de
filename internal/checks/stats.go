package checks

import (
	"math"
	"sort"
)

// Statistical helpers shared by the analysis checks. Degenerate inputs
// (empty populations, zero spread, zero mean) are defined as 0 rather than
// errors so callers never branch on edge cases.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// sampleStdDev is the n-1 standard deviation; 0 for fewer than two points.
func sampleStdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mu := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// percentile picks the value at index floor(n*p) of the ascending-sorted
// population.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return sorted[i]
}

// percentileRank is the share of the population at or below x, in percent.
func percentileRank(xs []float64, x float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	count := 0
	for _, v := range xs {
		if v <= x {
			count++
		}
	}
	return float64(count) / float64(len(xs)) * 100
}

// zScore is 0 when the population has no spread.
func zScore(x, mu, sigma float64) float64 {
	if sigma == 0 {
		return 0
	}
	return (x - mu) / sigma
}

// deviationPercent is 0 when the population mean is 0.
func deviationPercent(x, mu float64) float64 {
	if mu == 0 {
		return 0
	}
	return (x - mu) / mu * 100
}

// normalizedEntropy is the Shannon entropy of the distribution divided by
// its maximum (log2 of the outcome count); 0 for single-outcome
// distributions.
func normalizedEntropy(probs []float64) float64 {
	if len(probs) <= 1 {
		return 0
	}
	var h float64
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h / math.Log2(float64(len(probs)))
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
