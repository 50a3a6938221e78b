package substrate

// DefaultMaxIterations is the default round budget for one enforcement.
const DefaultMaxIterations = 10

// roundBudget counts enforcement rounds and enforces a maximum.
//
// Each round propagates one generation of writes. A set of relations and
// repairs that settles produces an empty generation well within the
// budget; one that keeps writing (A -> B -> A with changing values, or a
// relation undoing a repair) exhausts it.
type roundBudget struct {
	max     int
	current int
}

func newRoundBudget(max int) *roundBudget {
	if max <= 0 {
		max = DefaultMaxIterations
	}
	return &roundBudget{max: max}
}

// Check increments the round counter and validates it against the limit.
func (b *roundBudget) Check(substrate string) error {
	b.current++
	if b.current > b.max {
		return &SubstrateError{
			Code:      ErrCodeRepairDivergence,
			Message:   "relations and repairs did not settle within the round budget",
			Substrate: substrate,
			Rounds:    b.max,
		}
	}
	return nil
}

// Current returns the number of rounds started.
func (b *roundBudget) Current() int {
	return b.current
}
