package quality

import "math"

// zScores standardises values with the sample standard deviation. NaN entries are
// excluded from the moments and stay NaN. When fewer than two finite values exist or
// the deviation is zero every finite entry scores 0.
func zScores(values []float64) []float64 {
	out := make([]float64, len(values))

	n := 0
	sum := 0.0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		n++
		sum += v
	}

	var mean, std float64
	if n > 0 {
		mean = sum / float64(n)
	}
	if n > 1 {
		ss := 0.0
		for _, v := range values {
			if math.IsNaN(v) {
				continue
			}
			d := v - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(n-1))
		// Identical inputs can leave rounding noise in the mean.
		if std <= 1e-12*math.Max(1, math.Abs(mean)) {
			std = 0
		}
	}

	for i, v := range values {
		switch {
		case math.IsNaN(v):
			out[i] = math.NaN()
		case std == 0 || math.IsNaN(std):
			out[i] = 0
		default:
			out[i] = (v - mean) / std
		}
	}
	return out
}

// pctChange returns the day-over-day relative change; the first entry is NaN.
func pctChange(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i == 0 || values[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i]/values[i-1] - 1
	}
	return out
}
