package substrate

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/causalverse/internal/ir"
)

// CUEInvariant compiles a CUE expression into an invariant. A value holds
// when it unifies with the expression and the result is concrete.
//
// Examples:
//
//	CUEInvariant("percent", ">=0 & <=100")
//	CUEInvariant("has-x", "{x: number}")
//	CUEInvariant("state", `"idle" | "running"`)
//
// Returns INVALID_CONSTRAINT when the expression does not compile.
func CUEInvariant(name, expr string) (Invariant, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(expr)
	if err := schema.Err(); err != nil {
		return Invariant{}, &SubstrateError{
			Code:      ErrCodeInvalidConstraint,
			Message:   fmt.Sprintf("compile CUE invariant %q: %v", expr, err),
			Invariant: name,
		}
	}

	// a cue.Context is not safe for concurrent use
	var mu sync.Mutex
	return Invariant{
		Name: name,
		Holds: func(value ir.IRValue) bool {
			mu.Lock()
			defer mu.Unlock()
			v := ctx.Encode(ir.ToGo(value))
			if v.Err() != nil {
				return false
			}
			return schema.Unify(v).Validate(cue.Concrete(true)) == nil
		},
	}, nil
}

// MustCUEInvariant is like CUEInvariant but panics on error.
// Use only with expressions known to compile.
func MustCUEInvariant(name, expr string) Invariant {
	inv, err := CUEInvariant(name, expr)
	if err != nil {
		panic(err)
	}
	return inv
}
