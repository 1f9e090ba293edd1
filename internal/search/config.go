package search

import "math"

// Config carries the alpha-beta and MCTS tunables SPEC_FULL.md 6.3 exposes
// as UCI-settable options, with defaults matching spec.md 4.2 and 4.5.
type Config struct {
	// EnablePruning gates the additive speed optimizations layered on top
	// of the literal spec.md 4.2 algorithm (reverse futility pruning,
	// razoring). Disabling it makes negamax degrade to exactly the
	// spec.md-described procedure (SPEC_FULL.md 4).
	EnablePruning bool

	AspirationWindow int
	LMRMinDepth      int
	LMRMinMoveIndex  int

	CPuct        float64
	FPUReduction float64
	PessimisticK float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		EnablePruning:    true,
		AspirationWindow: 25,
		LMRMinDepth:      lmrMinDepth,
		LMRMinMoveIndex:  lmrMinMoveIndex,
		CPuct:            math.Sqrt2,
		FPUReduction:     0.2,
		PessimisticK:     1.0,
	}
}
