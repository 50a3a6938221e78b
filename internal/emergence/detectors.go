package emergence

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/roach88/causalverse/internal/causal"
)

// detectFunc is a pure detector: it reports at most one pattern for a
// window. Tick and DetectedAt are filled in by the Detector.
type detectFunc func(w Window, cfg Config) (Pattern, bool)

var detectors = map[Kind]detectFunc{
	KindSynchronization: detectSynchronization,
	KindOscillation:     detectOscillation,
	KindCascade:         detectCascade,
	KindConvergence:     detectConvergence,
	KindDivergence:      detectDivergence,
	KindClustering:      detectClustering,
	KindFeedbackLoop:    detectFeedbackLoop,
	KindPhaseTransition: detectPhaseTransition,
	KindEquilibrium:     detectEquilibrium,
	KindChaos:           detectChaos,
}

const (
	// syncThreshold is the pair score above which two stores are in step.
	syncThreshold = 0.5
	// syncTolerance is how many ticks apart two changes may be and still
	// count as simultaneous.
	syncTolerance = 1
	// maxCascadeLag bounds the lag searched for propagation.
	maxCascadeLag = 3
	// clusterSimilarity is the change-rate similarity that joins a cluster.
	clusterSimilarity = 0.9
	// minEffect is the effect size a phase transition must exceed.
	minEffect = 2.0
	// calmTolerance is the relative deviation allowed at equilibrium.
	calmTolerance = 0.01
)

// ============================================================================
// Synchronization
// ============================================================================

func detectSynchronization(w Window, cfg Config) (Pattern, bool) {
	keys := w.ready(cfg.MinSamples)
	if len(keys) < 2 {
		return Pattern{}, false
	}
	rows := w.aligned(keys)
	ds := make([][]float64, len(rows))
	for i, row := range rows {
		ds[i] = deltas(row)
	}

	var (
		involved []string
		scores   []float64
		coincide []float64
	)
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			score, c := syncScore(ds[i], ds[j])
			if score <= syncThreshold {
				continue
			}
			scores = append(scores, score)
			coincide = append(coincide, c)
			for _, k := range []string{keys[i], keys[j]} {
				if !slices.Contains(involved, k) {
					involved = append(involved, k)
				}
			}
		}
	}
	if len(scores) == 0 {
		return Pattern{}, false
	}
	slices.Sort(involved)
	ratio := stat.Mean(scores, nil)
	return Pattern{
		Kind:       KindSynchronization,
		Confidence: clamp01(ratio),
		Stores:     involved,
		Evidence: map[string]float64{
			"pairs":       float64(len(scores)),
			"sync_ratio":  round4(ratio),
			"coincidence": round4(stat.Mean(coincide, nil)),
		},
		Description: fmt.Sprintf("%d stores change in step", len(involved)),
	}, true
}

// syncScore is the fraction of changes the other store matches within
// syncTolerance ticks. When both delta series vary, the score is weighted
// by how well the change sizes correlate. A constant delta series, such as
// a steady ramp, leaves the ratio unweighted.
func syncScore(a, b []float64) (score, coincidence float64) {
	var active, matched int
	for t := range a {
		ca, cb := changed(a[t]), changed(b[t])
		if !ca && !cb {
			continue
		}
		active++
		if (ca && changedNear(b, t)) || (cb && changedNear(a, t)) {
			matched++
		}
	}
	if active == 0 {
		return 0, 0
	}
	coincidence = float64(matched) / float64(active)
	if !varies(a) || !varies(b) {
		return coincidence, coincidence
	}
	return coincidence * math.Max(0, correlation(a, b)), coincidence
}

func changedNear(ds []float64, t int) bool {
	for i := max(0, t-syncTolerance); i <= min(len(ds)-1, t+syncTolerance); i++ {
		if changed(ds[i]) {
			return true
		}
	}
	return false
}

// ============================================================================
// Oscillation
// ============================================================================

func detectOscillation(w Window, cfg Config) (Pattern, bool) {
	var (
		best      Pattern
		found     bool
		bestScore float64
	)
	for _, key := range w.ready(cfg.MinSamples) {
		xs := w.Samples(key)
		mean, std := meanStd(xs)
		if std == 0 {
			continue
		}
		crossings := zeroCrossings(xs, mean)
		if crossings < 3 {
			continue
		}
		period, r := dominantPeriod(xs)
		if period == 0 || r <= bestScore {
			continue
		}
		bestScore = r
		found = true
		best = Pattern{
			Kind:       KindOscillation,
			Confidence: clamp01(r),
			Stores:     []string{key},
			Evidence: map[string]float64{
				"period":          float64(period),
				"autocorrelation": round4(r),
				"zero_crossings":  float64(crossings),
			},
			Description: fmt.Sprintf("%s oscillates with period %d", key, period),
		}
	}
	return best, found
}

func zeroCrossings(xs []float64, mean float64) int {
	n, prev := 0, 0.0
	for _, x := range xs {
		c := x - mean
		if math.Abs(c) <= changeEpsilon {
			continue
		}
		if prev != 0 && (c > 0) != (prev > 0) {
			n++
		}
		prev = c
	}
	return n
}

// dominantPeriod returns the lag of the highest autocorrelation peak that
// fits at least twice in the series.
func dominantPeriod(xs []float64) (int, float64) {
	maxLag := len(xs) / 2
	if maxLag < 2 {
		return 0, 0
	}
	ac := make([]float64, maxLag+2)
	for lag := 1; lag <= maxLag+1 && lag < len(xs); lag++ {
		ac[lag] = autocorrelation(xs, lag)
	}
	period, best := 0, 0.0
	for lag := 2; lag <= maxLag; lag++ {
		if ac[lag] < ac[lag-1] || ac[lag] < ac[lag+1] {
			continue
		}
		if ac[lag] > best {
			period, best = lag, ac[lag]
		}
	}
	return period, best
}

// ============================================================================
// Cascade
// ============================================================================

func detectCascade(w Window, cfg Config) (Pattern, bool) {
	keys := w.ready(cfg.MinSamples)
	if len(keys) < 2 {
		return Pattern{}, false
	}
	rows := w.aligned(keys)
	ds := make([][]float64, len(rows))
	for i, row := range rows {
		ds[i] = deltas(row)
	}

	var (
		best  Pattern
		found bool
		score float64
	)
	for i := range keys {
		for j := range keys {
			if i == j {
				continue
			}
			simultaneous := correlation(ds[i], ds[j])
			for lag := 1; lag <= min(maxCascadeLag, len(ds[i])/4); lag++ {
				r := laggedCorrelation(ds[i], ds[j], lag)
				if r <= 0.5 || r <= simultaneous+0.1 || r <= score {
					continue
				}
				score = r
				found = true
				best = Pattern{
					Kind:       KindCascade,
					Confidence: clamp01(r),
					Stores:     []string{keys[i], keys[j]},
					Evidence: map[string]float64{
						"lag":          float64(lag),
						"correlation":  round4(r),
						"simultaneous": round4(simultaneous),
					},
					Description: fmt.Sprintf("changes in %s reach %s after %d ticks", keys[i], keys[j], lag),
				}
			}
		}
	}
	return best, found
}

// ============================================================================
// Convergence and divergence
// ============================================================================

// spreadTrend regresses the cross-store variance on time.
func spreadTrend(w Window, cfg Config) (keys []string, slope, r2, relative float64, ok bool) {
	keys = w.ready(cfg.MinSamples)
	if len(keys) < 2 {
		return nil, 0, 0, 0, false
	}
	rows := w.aligned(keys)
	n := len(rows[0])
	spread := make([]float64, n)
	column := make([]float64, len(rows))
	for t := range n {
		for i := range rows {
			column[i] = rows[i][t]
		}
		spread[t] = stat.Variance(column, nil)
	}
	mean := stat.Mean(spread, nil)
	if mean <= changeEpsilon {
		return nil, 0, 0, 0, false
	}
	slope, r2 = trend(spread)
	relative = slope * float64(n-1) / mean
	return keys, slope, r2, relative, true
}

func detectConvergence(w Window, cfg Config) (Pattern, bool) {
	keys, slope, r2, rel, ok := spreadTrend(w, cfg)
	if !ok || slope >= 0 {
		return Pattern{}, false
	}
	return Pattern{
		Kind:       KindConvergence,
		Confidence: clamp01(r2 * math.Min(1, math.Abs(rel))),
		Stores:     keys,
		Evidence: map[string]float64{
			"slope":           round4(slope),
			"r_squared":       round4(r2),
			"relative_change": round4(rel),
		},
		Description: fmt.Sprintf("%d stores are converging", len(keys)),
	}, true
}

func detectDivergence(w Window, cfg Config) (Pattern, bool) {
	keys, slope, r2, rel, ok := spreadTrend(w, cfg)
	if !ok || slope <= 0 {
		return Pattern{}, false
	}
	return Pattern{
		Kind:       KindDivergence,
		Confidence: clamp01(r2 * math.Min(1, math.Abs(rel))),
		Stores:     keys,
		Evidence: map[string]float64{
			"slope":           round4(slope),
			"r_squared":       round4(r2),
			"relative_change": round4(rel),
		},
		Description: fmt.Sprintf("%d stores are diverging", len(keys)),
	}, true
}

// ============================================================================
// Clustering
// ============================================================================

func detectClustering(w Window, cfg Config) (Pattern, bool) {
	var (
		keys  []string
		rates []float64
	)
	for _, key := range w.ready(cfg.MinSamples) {
		ds := deltas(w.Samples(key))
		var total float64
		for _, d := range ds {
			total += math.Abs(d)
		}
		if rate := total / float64(len(ds)); rate > changeEpsilon {
			keys = append(keys, key)
			rates = append(rates, rate)
		}
	}
	if len(keys) < 3 {
		return Pattern{}, false
	}

	// single-linkage grouping over the similarity graph
	parent := make([]int, len(keys))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if rateSimilarity(rates[i], rates[j]) >= clusterSimilarity {
				parent[find(i)] = find(j)
			}
		}
	}
	groups := make(map[int][]int)
	for i := range keys {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	var largest []int
	for _, g := range groups {
		if len(g) > len(largest) || (len(g) == len(largest) && g[0] < largest[0]) {
			largest = g
		}
	}
	if len(largest) < 2 || len(largest) == len(keys) {
		return Pattern{}, false
	}

	var sims []float64
	members := make([]string, len(largest))
	for a, i := range largest {
		members[a] = keys[i]
		for _, j := range largest[a+1:] {
			sims = append(sims, rateSimilarity(rates[i], rates[j]))
		}
	}
	similarity := stat.Mean(sims, nil)
	return Pattern{
		Kind:       KindClustering,
		Confidence: clamp01(similarity),
		Stores:     members,
		Evidence: map[string]float64{
			"clusters":   float64(len(groups)),
			"size":       float64(len(largest)),
			"similarity": round4(similarity),
		},
		Description: fmt.Sprintf("%s change at a similar rate", strings.Join(members, ", ")),
	}, true
}

func rateSimilarity(a, b float64) float64 {
	hi := math.Max(a, b)
	if hi == 0 {
		return 1
	}
	return 1 - math.Abs(a-b)/hi
}

// ============================================================================
// Feedback loop
// ============================================================================

func detectFeedbackLoop(w Window, cfg Config) (Pattern, bool) {
	ready := w.ready(cfg.MinSamples)
	adj := make(causal.Adjacency)
	for _, e := range w.Deps {
		if slices.Contains(ready, e[0]) && slices.Contains(ready, e[1]) {
			adj[e[0]] = append(adj[e[0]], e[1])
		}
	}
	cycles := causal.Cycles(adj)
	if len(cycles) == 0 {
		return Pattern{}, false
	}
	loop := cycles[0]
	for _, c := range cycles[1:] {
		if len(c) > len(loop) {
			loop = c
		}
	}

	active := 0
	for _, key := range loop {
		if slices.ContainsFunc(deltas(w.Samples(key)), changed) {
			active++
		}
	}
	if active == 0 {
		return Pattern{}, false
	}
	fraction := float64(active) / float64(len(loop))
	return Pattern{
		Kind:       KindFeedbackLoop,
		Confidence: clamp01(fraction),
		Stores:     slices.Clone(loop),
		Evidence: map[string]float64{
			"loops":           float64(len(cycles)),
			"members":         float64(len(loop)),
			"active_fraction": round4(fraction),
		},
		Description: "feedback loop through " + strings.Join(causal.CyclePath(loop, adj), " -> "),
	}, true
}

// ============================================================================
// Phase transition
// ============================================================================

func detectPhaseTransition(w Window, cfg Config) (Pattern, bool) {
	var (
		best      Pattern
		found     bool
		bestScore float64
	)
	for _, key := range w.ready(cfg.MinSamples) {
		xs := w.Samples(key)
		half := len(xs) / 2
		ma, sa := meanStd(xs[:half])
		mb, sb := meanStd(xs[half:])
		jump := math.Abs(mb - ma)
		if jump <= changeEpsilon {
			continue
		}
		pooled := math.Sqrt((sa*sa + sb*sb) / 2)
		effect := math.Inf(1)
		conf := 1.0
		if pooled > 0 {
			effect = jump / pooled
			conf = (effect - 1) / (effect + 1)
		}
		if effect <= minEffect || conf <= bestScore {
			continue
		}
		bestScore = conf
		found = true
		evidence := map[string]float64{
			"before": round4(ma),
			"after":  round4(mb),
			"jump":   round4(jump),
		}
		if !math.IsInf(effect, 1) {
			evidence["effect_size"] = round4(effect)
		}
		best = Pattern{
			Kind:        KindPhaseTransition,
			Confidence:  clamp01(conf),
			Stores:      []string{key},
			Evidence:    evidence,
			Description: fmt.Sprintf("%s shifted from %.4g to %.4g", key, ma, mb),
		}
	}
	return best, found
}

// ============================================================================
// Equilibrium
// ============================================================================

func detectEquilibrium(w Window, cfg Config) (Pattern, bool) {
	keys := w.ready(cfg.MinSamples)
	if len(keys) == 0 {
		return Pattern{}, false
	}
	var calm []string
	var worst float64
	for _, key := range keys {
		xs := w.Samples(key)
		recent := xs[len(xs)-cfg.MinSamples:]
		mean, std := meanStd(recent)
		limit := calmTolerance * math.Max(1, math.Abs(mean))
		if std <= limit {
			calm = append(calm, key)
			worst = math.Max(worst, std)
		}
	}
	if len(calm) == 0 {
		return Pattern{}, false
	}
	fraction := float64(len(calm)) / float64(len(keys))
	return Pattern{
		Kind:       KindEquilibrium,
		Confidence: clamp01(fraction),
		Stores:     calm,
		Evidence: map[string]float64{
			"stable_fraction": round4(fraction),
			"max_std":         round4(worst),
		},
		Description: fmt.Sprintf("%d of %d stores at equilibrium", len(calm), len(keys)),
	}, true
}

// ============================================================================
// Chaos
// ============================================================================

func detectChaos(w Window, cfg Config) (Pattern, bool) {
	var (
		best      Pattern
		found     bool
		bestScore float64
	)
	for _, key := range w.ready(cfg.MinSamples) {
		xs := w.Samples(key)
		mean, std := meanStd(xs)
		if std == 0 {
			continue
		}
		cv := std / math.Max(math.Abs(mean), changeEpsilon)
		_, r2 := trend(xs)
		ac1 := autocorrelation(xs, 1)
		score := clamp01(cv/0.5) * (1 - r2) * (1 - math.Min(1, math.Abs(ac1)))
		if score <= bestScore {
			continue
		}
		bestScore = score
		found = true
		best = Pattern{
			Kind:       KindChaos,
			Confidence: clamp01(score),
			Stores:     []string{key},
			Evidence: map[string]float64{
				"cv":              round4(cv),
				"r_squared":       round4(r2),
				"autocorrelation": round4(ac1),
			},
			Description: fmt.Sprintf("%s varies without trend or memory", key),
		}
	}
	return best, found
}
