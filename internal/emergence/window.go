package emergence

import (
	"slices"
)

// ring is a fixed-capacity buffer of samples; pushing past capacity drops
// the oldest sample.
type ring struct {
	buf   []float64
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// values returns the samples oldest first.
func (r *ring) values() []float64 {
	out := make([]float64, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// resize keeps the newest samples that fit in capacity.
func (r *ring) resize(capacity int) {
	vals := r.values()
	if len(vals) > capacity {
		vals = vals[len(vals)-capacity:]
	}
	r.buf = make([]float64, capacity)
	r.start = 0
	r.n = copy(r.buf, vals)
}

// Window is an immutable view of the samples taken so far.
type Window struct {
	// Tick is the number of ticks sampled when the window was taken.
	Tick int64

	// Keys lists the sampled stores, sorted.
	Keys []string

	// Series holds each store's samples, oldest first. Stores created
	// after sampling began have shorter series.
	Series map[string][]float64

	// Deps are the store -> store edges reported by the source.
	Deps [][2]string
}

// Samples returns the series of key.
func (w Window) Samples(key string) []float64 {
	return w.Series[key]
}

// ready returns the keys with at least min samples.
func (w Window) ready(min int) []string {
	var out []string
	for _, k := range w.Keys {
		if len(w.Series[k]) >= min {
			out = append(out, k)
		}
	}
	return out
}

// aligned returns the trailing samples the given stores have in common, so
// index i of every row refers to the same tick.
func (w Window) aligned(keys []string) [][]float64 {
	n := -1
	for _, k := range keys {
		if l := len(w.Series[k]); n < 0 || l < n {
			n = l
		}
	}
	rows := make([][]float64, len(keys))
	for i, k := range keys {
		s := w.Series[k]
		rows[i] = slices.Clone(s[len(s)-n:])
	}
	return rows
}
