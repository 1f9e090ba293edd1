package search

import (
	"time"

	"github.com/kestrelchess/core/internal/board"
)

// Evaluator returns a static evaluation in centipawns from the side to
// move's perspective (spec.md 6). internal/eval.Evaluate satisfies this via
// EvaluatorFunc; a neural evaluator can be substituted without touching the
// search core.
type Evaluator interface {
	Eval(pos *board.Position) int
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(pos *board.Position) int

func (f EvaluatorFunc) Eval(pos *board.Position) int { return f(pos) }

// PolicyValue is the optional oracle MCTS consults once per node, never per
// alpha-beta call (spec.md 6, 4.5). PolicyValue returns move priors that sum
// to 1 over the supplied legal moves and a value in [0,1] from the side to
// move's perspective.
type PolicyValue interface {
	Infer(pos *board.Position, legal []board.Move) (priors map[board.Move]float32, value float32)
}

// TablebaseOutcome is the result class a Tablebase probe returns, per
// spec.md 6.
type TablebaseOutcome int

const (
	TBUnknown TablebaseOutcome = iota
	TBWin
	TBLoss
	TBDraw
	TBCursedWin
	TBBlessedLoss
)

// TablebaseResult is the outcome of a successful probe.
type TablebaseResult struct {
	Outcome  TablebaseOutcome
	BestMove board.Move
}

// Tablebase is the optional endgame-table collaborator the Hybrid Driver
// consults before any search, per spec.md 4.1 and 6. Implementations decide
// for themselves whether a position's piece count is within coverage;
// Probe's second return value is false when it is not.
type Tablebase interface {
	Probe(pos *board.Position) (TablebaseResult, bool)
}

// Clock is a monotonic time source for budget enforcement (spec.md 6). It
// exists so searches can be driven by a fake clock in tests without
// sleeping real wall time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
