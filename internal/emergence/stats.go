package emergence

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// changeEpsilon is the smallest difference between consecutive samples
// that counts as a change.
const changeEpsilon = 1e-9

func deltas(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

func changed(d float64) bool {
	return math.Abs(d) > changeEpsilon
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) < 2 {
		if len(xs) == 1 {
			return xs[0], 0
		}
		return 0, 0
	}
	return stat.MeanStdDev(xs, nil)
}

// varies reports whether xs has non-zero spread.
func varies(xs []float64) bool {
	_, std := meanStd(xs)
	return std > changeEpsilon
}

// correlation is Pearson's r, or 0 when either side is constant.
func correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	if _, sx := meanStd(x); sx == 0 {
		return 0
	}
	if _, sy := meanStd(y); sy == 0 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// laggedCorrelation correlates x[t] with y[t+lag].
func laggedCorrelation(x, y []float64, lag int) float64 {
	if lag >= len(x) || len(x) != len(y) {
		return 0
	}
	return correlation(x[:len(x)-lag], y[lag:])
}

// autocorrelation at lag, normalized by the series variance.
func autocorrelation(xs []float64, lag int) float64 {
	n := len(xs)
	if lag <= 0 || lag >= n {
		return 0
	}
	mean := stat.Mean(xs, nil)
	var denom float64
	for _, x := range xs {
		denom += (x - mean) * (x - mean)
	}
	if denom == 0 {
		return 0
	}
	var num float64
	for t := 0; t+lag < n; t++ {
		num += (xs[t] - mean) * (xs[t+lag] - mean)
	}
	return (num / float64(n-lag)) / (denom / float64(n))
}

// trend fits xs against sample index and returns the slope and r².
func trend(xs []float64) (slope, r2 float64) {
	if len(xs) < 3 {
		return 0, 0
	}
	idx := make([]float64, len(xs))
	floats.Span(idx, 0, float64(len(xs)-1))
	alpha, beta := stat.LinearRegression(idx, xs, nil, false)
	if _, std := meanStd(xs); std == 0 {
		return beta, 0
	}
	r2 = stat.RSquared(idx, xs, nil, alpha, beta)
	if math.IsNaN(r2) {
		r2 = 0
	}
	return beta, r2
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// round4 keeps evidence readable and stable across platforms.
func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
