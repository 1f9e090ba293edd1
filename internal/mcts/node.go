package mcts

import (
	"math"

	"github.com/kestrelchess/core/internal/board"
)

// edge is one outgoing move from a node: lazily expanded into a child on
// first selection descent (spec.md 4.5, "Expansion is implicit").
type edge struct {
	move     board.Move
	child    int32 // index into tree.nodes, -1 if not yet expanded
	prior    float32
	tactical bool
}

const noChild int32 = -1

// node is one position reached from the search root. Positions are not
// stored on the node; the tree is walked by making and unmaking moves on a
// single shared board.Position, mirroring the alpha-beta searcher's
// undo-stack discipline.
type node struct {
	toMove board.Color

	visits     uint32
	totalValue float64 // White POV, per spec.md 4.5 "Backpropagation"
	m2         float64 // sum of squared backpropagated values, for the Pessimistic LCB

	edges              []edge
	tacticalCursor     int // index into edges of the next unexplored tactical move
	policyMaterialized bool

	terminal      bool
	terminalValue float64
}

// mean returns the node's average backpropagated value from White's
// perspective. Visits == 0 is handled by callers via first-play urgency.
func (n *node) mean() float64 {
	if n.visits == 0 {
		return 0.5
	}
	return n.totalValue / float64(n.visits)
}

// qFrom converts the node's White-POV mean into the value from the given
// perspective, per spec.md 4.5's Q definition: "Q(child) ... from the side
// to move at N's perspective" — N is the parent of the node being scored,
// so callers must pass the parent's toMove, never the node's own (a child's
// toMove is always the opposite of its parent's).
func (n *node) qFrom(perspective board.Color) float64 {
	q := n.mean()
	if perspective == board.Black {
		return 1 - q
	}
	return q
}

// stddev returns the standard error of the node's mean: the standard
// deviation of backpropagated values divided by sqrt(visits), used by the
// Pessimistic final-selection strategy's lower confidence bound, per
// spec.md 4.5.
func (n *node) stddev() float64 {
	if n.visits == 0 {
		return 0
	}
	variance := n.m2/float64(n.visits) - n.mean()*n.mean()
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance) / math.Sqrt(float64(n.visits))
}

// tree is an arena of nodes addressed by index, avoiding owning parent
// pointers so nodes can be appended freely during expansion (grounded on
// the teacher pack's index-based MCTS arenas, which use the same
// append-only allocation to keep node storage contiguous and GC-light).
type tree struct {
	nodes []node
}

func newTree() *tree {
	return &tree{nodes: make([]node, 0, 1024)}
}

func (t *tree) alloc(n node) int32 {
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1)
}

func (t *tree) at(idx int32) *node {
	return &t.nodes[idx]
}

func (t *tree) reset() {
	t.nodes = t.nodes[:0]
}
