package testutil

import (
	"math"
	"math/rand"
)

// Series yields the value of a synthetic signal at each tick.
//
// Series built from a random source are stateful: call them once per tick,
// in tick order.
type Series func(tick int) float64

// Constant always returns v.
func Constant(v float64) Series {
	return func(int) float64 { return v }
}

// Ramp returns start + slope*tick.
func Ramp(start, slope float64) Series {
	return func(tick int) float64 { return start + slope*float64(tick) }
}

// Sine returns offset + amplitude*sin(2*pi*tick/period).
func Sine(amplitude, period, offset float64) Series {
	return func(tick int) float64 {
		return offset + amplitude*math.Sin(2*math.Pi*float64(tick)/period)
	}
}

// Step returns before until tick at, then after.
func Step(before, after float64, at int) Series {
	return func(tick int) float64 {
		if tick < at {
			return before
		}
		return after
	}
}

// Noise returns uniform values in [0, scale) from a seeded source.
func Noise(seed int64, scale float64) Series {
	rng := rand.New(rand.NewSource(seed))
	return func(int) float64 { return rng.Float64() * scale }
}

// Delay replays s lagged by lag ticks, returning fill before that. s is
// called exactly once per tick.
func Delay(s Series, lag int, fill float64) Series {
	var history []float64
	return func(tick int) float64 {
		history = append(history, s(tick))
		if tick < lag || len(history) <= lag {
			return fill
		}
		return history[len(history)-1-lag]
	}
}

// Take evaluates s for ticks 0..n-1.
func Take(s Series, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s(i)
	}
	return out
}
