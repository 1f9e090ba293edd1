package eval

import (
	"math"

	"github.com/kestrelchess/core/internal/board"
	"github.com/kestrelchess/core/sfnnue"
	"github.com/kestrelchess/core/sfnnue/features"
)

// Classical is the default search.Evaluator (satisfied structurally, since
// this package sits below internal/search in the dependency order and
// cannot import it): the tapered piece-square evaluation above, backed by
// a per-search pawn hash table so repeated positions in a search tree
// don't re-walk pawn structure every call.
type Classical struct {
	pawnTable *PawnTable
}

// NewClassical creates a Classical evaluator with a pawn hash table sized
// sizeMB megabytes.
func NewClassical(sizeMB int) *Classical {
	if sizeMB < 1 {
		sizeMB = 1
	}
	return &Classical{pawnTable: NewPawnTable(sizeMB)}
}

func (c *Classical) Eval(pos *board.Position) int {
	return EvaluateWithPawnTable(pos, c.pawnTable)
}

// Clear empties the pawn hash table, for a new-game signal.
func (c *Classical) Clear() { c.pawnTable.Clear() }

// nnuePosAdapter exposes board.Position through the features.Position
// interface the sfnnue feature extractor expects.
type nnuePosAdapter struct{ pos *board.Position }

func (a nnuePosAdapter) Pieces() uint64 { return uint64(a.pos.AllOccupied) }

func (a nnuePosAdapter) KingSquare(color int) int {
	return int(a.pos.KingSquare[board.Color(color)])
}

var nnueSfPieceTable = [2][6]int{
	{features.W_PAWN, features.W_KNIGHT, features.W_BISHOP, features.W_ROOK, features.W_QUEEN, features.W_KING},
	{features.B_PAWN, features.B_KNIGHT, features.B_BISHOP, features.B_ROOK, features.B_QUEEN, features.B_KING},
}

func (a nnuePosAdapter) PieceOn(sq int) int {
	p := a.pos.PieceAt(board.Square(sq))
	if p == board.NoPiece {
		return features.NO_PIECE
	}
	return nnueSfPieceTable[p.Color()][p.Type()]
}

// NNUE is the alternate search.Evaluator backed by the teacher's NNUE
// network, selected through engine.Driver.SetUseNNUE after LoadNNUE. It shares
// the full-recompute approach of internal/policyvalue.NNUEOracle rather
// than the teacher's incremental accumulator stack, since an Evaluator is
// called at every quiescence leaf and the incremental machinery is only a
// net win when the caller also tracks make/unmake deltas, which this
// interface's single Eval(pos) call does not expose.
type NNUE struct {
	net *sfnnue.Network
}

// NewNNUE loads the big network from path.
func NewNNUE(path string) (*NNUE, error) {
	net := sfnnue.NewBigNetwork()
	if err := net.Load(path); err != nil {
		return nil, err
	}
	return &NNUE{net: net}, nil
}

func (n *NNUE) Eval(pos *board.Position) int {
	halfDims := n.net.FeatureTransformer.HalfDimensions
	var accumulation [2][]int16
	var psqtAccumulation [2][]int32
	adapter := nnuePosAdapter{pos}

	for perspective := 0; perspective < 2; perspective++ {
		accumulation[perspective] = make([]int16, halfDims)
		psqtAccumulation[perspective] = make([]int32, sfnnue.PSQTBuckets)

		var active features.IndexList
		features.AppendActiveIndices(perspective, adapter, &active)
		n.net.FeatureTransformer.ComputeAccumulator(
			active.Values[:active.Size],
			accumulation[perspective],
			psqtAccumulation[perspective],
		)
	}

	sideToMove := 0
	if pos.SideToMove == board.Black {
		sideToMove = 1
	}
	psqt, positional := n.net.Evaluate(accumulation, psqtAccumulation, sideToMove, pos.AllOccupied.PopCount())
	return int(psqt) + int(positional)
}

// sigmoidCP converts a centipawn score to a [0,1] win probability from the
// side to move's perspective, the conversion spec.md 4.5 step 4 names for
// the oracle-unavailable degrade path.
func sigmoidCP(cp int) float64 {
	return 1 / (1 + math.Exp(-float64(cp)/400))
}

// WinProbability is exported so internal/policyvalue's SigmoidFallback can
// reuse the exact conversion this package uses internally, rather than
// duplicating the constant.
func WinProbability(cp int) float64 { return sigmoidCP(cp) }
