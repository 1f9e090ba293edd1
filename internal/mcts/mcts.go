// Package mcts implements the tactical-first Monte Carlo Tree Search: a
// leaf-priority search that defers the policy/value oracle behind a
// tactical selection discipline, so captures, forks and checks are explored
// exhaustively at a node before any network call is made there.
package mcts

import (
	"math"
	"sync/atomic"

	"github.com/kestrelchess/core/internal/board"
	"github.com/kestrelchess/core/internal/search"
)

// FinalSelection chooses how the root move is picked once the iteration
// budget is spent (spec.md 4.5, "Final root-move choice").
type FinalSelection int

const (
	Robust FinalSelection = iota
	Pessimistic
)

// Options configures one MCTS search. CPuct, FPUReduction and PessimisticK
// default from search.Config, the single place SPEC_FULL.md 6.3 names
// these tunables as UCI-settable, so a Driver sharing one Config with its
// alpha-beta Searcher keeps both in sync automatically.
type Options struct {
	CPuct          float64
	FPUReduction   float64
	FinalSelection FinalSelection
	PessimisticK   float64
	MaxIterations  int
	MateProbeDepth int // bounded mate search at stop nodes, spec.md 4.5 step 3
}

// DefaultOptions returns the spec's defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(search.DefaultConfig())
}

// OptionsFromConfig derives MCTS options from a shared search.Config, so a
// Driver need only carry one set of UCI-settable tunables.
func OptionsFromConfig(cfg search.Config) Options {
	return Options{
		CPuct:          cfg.CPuct,
		FPUReduction:   cfg.FPUReduction,
		FinalSelection: Robust,
		PessimisticK:   cfg.PessimisticK,
		MaxIterations:  10000,
		MateProbeDepth: 3,
	}
}

// Info reports statistics about one MCTS search, per spec.md 6's exposed
// interface ("selected-mode statistics ... fraction of leaves resolved by
// mate search, fraction that invoked the policy/value oracle").
type Info struct {
	Iterations       int
	MateResolved     int
	OracleCalls      int
	SigmoidFallbacks int
	RootVisits       uint32
}

// Engine runs tactical-first MCTS over a shared position. It shares the
// alpha-beta transposition table with its internal mate searcher, and the
// driver's stop flag and node counter, so cancellation and node accounting
// are uniform across every search mode (spec.md 5).
type Engine struct {
	eval   search.Evaluator
	oracle search.PolicyValue
	mate   *search.MateSearcher

	stop  *atomic.Bool
	nodes *atomic.Uint64

	tree *tree
	pos  *board.Position

	undoStack []board.UndoInfo
	pathStack []int32
	edgeStack []int

	info Info
}

// NewEngine creates an Engine. oracle may be nil, in which case every
// evaluation falls back to the sigmoid of the static evaluator (spec.md 4.5
// step 4, "If the oracle is unavailable").
func NewEngine(tt *search.Table, eval search.Evaluator, oracle search.PolicyValue, stop *atomic.Bool, nodes *atomic.Uint64) *Engine {
	return &Engine{
		eval:   eval,
		oracle: oracle,
		mate:   search.NewMateSearcher(tt, stop, nodes),
		stop:   stop,
		nodes:  nodes,
		tree:   newTree(),
	}
}

// Search runs up to opts.MaxIterations iterations (polling the stop flag
// every 64 per spec.md 5) and returns the selected root move.
func (e *Engine) Search(pos *board.Position, repeats *board.RepetitionHistory, opts Options) (board.Move, Info) {
	e.pos = pos
	e.tree.reset()
	e.info = Info{}
	if repeats == nil {
		repeats = board.NewRepetitionHistory(nil)
	}

	root := e.tree.alloc(node{toMove: pos.SideToMove})
	e.initEdges(root)

	maxDepth := 256
	if cap(e.undoStack) < maxDepth {
		e.undoStack = make([]board.UndoInfo, maxDepth)
		e.pathStack = make([]int32, maxDepth)
		e.edgeStack = make([]int, maxDepth)
	}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if iter&63 == 0 && e.stop.Load() {
			break
		}
		e.iterate(root, repeats, opts)
		e.info.Iterations++
	}

	e.info.RootVisits = e.tree.at(root).visits
	return e.selectFinalMove(root, opts), e.info
}

// iterate runs one select -> expand-or-terminate -> evaluate -> backpropagate
// pass starting at root.
func (e *Engine) iterate(root int32, repeats *board.RepetitionHistory, opts Options) {
	depth := 0
	idx := root

	for {
		e.pathStack[depth] = idx
		n := e.tree.at(idx)

		if n.terminal {
			e.backprop(depth, n.terminalValue)
			e.unwind(depth, repeats)
			return
		}

		if n.tacticalCursor < len(n.edges) && n.edges[n.tacticalCursor].tactical {
			ei := n.tacticalCursor
			n.tacticalCursor++
			e.edgeStack[depth] = ei
			idx = e.descend(idx, ei, depth, repeats)
			depth++
			continue
		}

		if !n.policyMaterialized {
			value := e.evaluate(idx, opts)
			e.backprop(depth, value)
			e.unwind(depth, repeats)
			return
		}

		ei := e.selectPUCT(idx, opts)
		if ei < 0 {
			// No legal moves recorded: treat as terminal draw.
			e.backprop(depth, 0.5)
			e.unwind(depth, repeats)
			return
		}
		e.edgeStack[depth] = ei
		idx = e.descend(idx, ei, depth, repeats)
		depth++
	}
}

// descend makes the move for edge ei of node idx, creating the child node
// lazily if needed, and returns the child's index.
func (e *Engine) descend(idx int32, ei int, depth int, repeats *board.RepetitionHistory) int32 {
	n := e.tree.at(idx)
	m := n.edges[ei].move

	e.undoStack[depth] = e.pos.MakeMove(m)
	repeats.Push(e.pos.Hash)
	e.nodes.Add(1)

	if n.edges[ei].child == noChild {
		child := e.tree.alloc(node{toMove: e.pos.SideToMove})
		n.edges[ei].child = child
		e.initEdges(child)
	}
	return n.edges[ei].child
}

// unwind unmakes every move made during the just-completed iteration, using
// edgeStack to identify the exact edge taken at each depth.
func (e *Engine) unwind(depth int, repeats *board.RepetitionHistory) {
	for d := depth - 1; d >= 0; d-- {
		n := e.tree.at(e.pathStack[d])
		m := n.edges[e.edgeStack[d]].move
		e.pos.UnmakeMove(m, e.undoStack[d])
		repeats.Pop()
	}
}

// initEdges computes the tactical cursor and the full edge list for a
// freshly allocated node, per spec.md 4.5 ("The tactical cursor is computed
// on the parent when the parent is first visited").
func (e *Engine) initEdges(idx int32) {
	n := e.tree.at(idx)
	legal := e.pos.GenerateLegalMoves()
	if legal.Len() == 0 {
		n.terminal = true
		n.terminalValue = terminalValue(e.pos)
		return
	}
	if e.pos.IsInsufficientMaterial() || e.pos.HalfMoveClock >= 100 {
		n.terminal = true
		n.terminalValue = 0.5
		return
	}

	tactical := search.TacticalMoves(e.pos, legal)
	tacticalSet := make(map[board.Move]bool, len(tactical))
	edges := make([]edge, 0, legal.Len())
	for _, m := range tactical {
		edges = append(edges, edge{move: m, child: noChild, prior: 1, tactical: true})
		tacticalSet[m] = true
	}
	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		if !tacticalSet[m] {
			edges = append(edges, edge{move: m, child: noChild, prior: 1})
		}
	}
	n.edges = edges
}

func terminalValue(pos *board.Position) float64 {
	if pos.InCheck() {
		if pos.SideToMove == board.White {
			return 0 // white to move, no moves, in check: black mated white
		}
		return 1
	}
	return 0.5
}

// selectPUCT picks the edge maximizing the PUCT formula of spec.md 4.5.
func (e *Engine) selectPUCT(idx int32, opts Options) int {
	n := e.tree.at(idx)
	if len(n.edges) == 0 {
		return -1
	}
	parentVisits := float64(n.visits)
	if parentVisits == 0 {
		parentVisits = 1
	}
	sqrtParent := math.Sqrt(parentVisits)

	// Q is always taken from n's side to move, per spec.md 4.5 — n is the
	// parent being expanded here, regardless of which edge is scored.
	fpu := n.qFrom(n.toMove) - opts.FPUReduction

	best := -1
	bestScore := math.Inf(-1)
	for i, ed := range n.edges {
		var q float64
		var visits float64
		if ed.child == noChild {
			q = fpu
			visits = 0
		} else {
			child := e.tree.at(ed.child)
			if child.visits == 0 {
				q = fpu
			} else {
				q = child.qFrom(n.toMove)
			}
			visits = float64(child.visits)
		}
		score := q + opts.CPuct*float64(ed.prior)*sqrtParent/(1+visits)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return best
}

// evaluate resolves the value of the stop node per spec.md 4.5's ordered
// steps, and materializes policy priors for its non-tactical children.
func (e *Engine) evaluate(idx int32, opts Options) float64 {
	n := e.tree.at(idx)

	if mateScore, _, ok := e.mate.Search(e.pos, opts.MateProbeDepth); ok {
		e.info.MateResolved++
		value := mateSearchValue(e.pos.SideToMove, mateScore)
		n.policyMaterialized = true
		n.terminal = true
		n.terminalValue = value
		return value
	}

	var value float64
	if e.oracle != nil {
		legal := e.pos.GenerateLegalMoves()
		moves := legal.Slice()
		priors, v := e.oracle.Infer(e.pos, moves)
		e.info.OracleCalls++
		value = sideToMoveToWhite(e.pos.SideToMove, float64(v))
		applyPriors(n, priors)
	} else {
		e.info.SigmoidFallbacks++
		cp := e.eval.Eval(e.pos)
		sideValue := 1 / (1 + math.Exp(-float64(cp)/400))
		value = sideToMoveToWhite(e.pos.SideToMove, sideValue)
	}
	n.policyMaterialized = true
	return value
}

// mateSearchValue converts a mate score found from mover's perspective into
// a White-POV value in [0,1]: 1 if the side to move delivers mate, 0 if
// mated.
func mateSearchValue(sideToMove board.Color, mateScore int) float64 {
	winning := mateScore > 0
	var whiteWins bool
	if sideToMove == board.White {
		whiteWins = winning
	} else {
		whiteWins = !winning
	}
	if whiteWins {
		return 1
	}
	return 0
}

func sideToMoveToWhite(sideToMove board.Color, v float64) float64 {
	if sideToMove == board.Black {
		return 1 - v
	}
	return v
}

func applyPriors(n *node, priors map[board.Move]float32) {
	for i := range n.edges {
		if n.edges[i].tactical {
			continue
		}
		if p, ok := priors[n.edges[i].move]; ok {
			n.edges[i].prior = p
		}
	}
}

// backprop adds v (White POV) to every node on the path from the stop node
// (at pathStack[depth]) up to the root, with no perspective inversion
// (spec.md 4.5, "Backpropagation").
func (e *Engine) backprop(depth int, v float64) {
	for d := depth; d >= 0; d-- {
		n := e.tree.at(e.pathStack[d])
		n.visits++
		n.totalValue += v
		n.m2 += v * v
	}
}

// selectFinalMove implements the Robust and Pessimistic strategies of
// spec.md 4.5.
func (e *Engine) selectFinalMove(root int32, opts Options) board.Move {
	n := e.tree.at(root)
	if len(n.edges) == 0 {
		return board.NoMove
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, ed := range n.edges {
		if ed.child == noChild {
			continue
		}
		child := e.tree.at(ed.child)
		// Score from n's (the root's) side to move, per spec.md 4.5 — n.toMove
		// is the parent's perspective regardless of which child edge is
		// compared.
		q := child.qFrom(n.toMove)
		var score float64
		switch opts.FinalSelection {
		case Pessimistic:
			score = q - opts.PessimisticK*child.stddev()
		default: // Robust
			score = float64(child.visits) + q/1e6
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return n.edges[best].move
}
