package emergence

import (
	"slices"
	"time"
)

// Kind names one of the ten pattern detectors.
type Kind string

const (
	KindSynchronization Kind = "synchronization"
	KindOscillation     Kind = "oscillation"
	KindCascade         Kind = "cascade"
	KindConvergence     Kind = "convergence"
	KindDivergence      Kind = "divergence"
	KindClustering      Kind = "clustering"
	KindFeedbackLoop    Kind = "feedback_loop"
	KindPhaseTransition Kind = "phase_transition"
	KindEquilibrium     Kind = "equilibrium"
	KindChaos           Kind = "chaos"
)

// AllKinds lists every detector in the order they run.
var AllKinds = []Kind{
	KindSynchronization,
	KindOscillation,
	KindCascade,
	KindConvergence,
	KindDivergence,
	KindClustering,
	KindFeedbackLoop,
	KindPhaseTransition,
	KindEquilibrium,
	KindChaos,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(AllKinds, k)
}

// Pattern is one confidence-scored finding.
type Pattern struct {
	Kind        Kind               `json:"kind"`
	Confidence  float64            `json:"confidence"`
	Stores      []string           `json:"stores"`
	Evidence    map[string]float64 `json:"evidence"`
	Description string             `json:"description"`
	DetectedAt  time.Time          `json:"detected_at"`
	// Tick is the sample count at detection time.
	Tick int64 `json:"tick"`
}

// Involves reports whether key is one of the pattern's stores.
func (p Pattern) Involves(key string) bool {
	return slices.Contains(p.Stores, key)
}

func (p Pattern) copy() Pattern {
	p.Stores = slices.Clone(p.Stores)
	if p.Evidence != nil {
		ev := make(map[string]float64, len(p.Evidence))
		for k, v := range p.Evidence {
			ev[k] = v
		}
		p.Evidence = ev
	}
	return p
}

// Filter selects accumulated patterns. Zero fields match everything.
type Filter struct {
	Kinds         []Kind
	MinConfidence float64
	Store         string
	SinceTick     int64
}

func (f Filter) matches(p Pattern) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, p.Kind) {
		return false
	}
	if p.Confidence < f.MinConfidence {
		return false
	}
	if f.Store != "" && !p.Involves(f.Store) {
		return false
	}
	return p.Tick >= f.SinceTick
}
