package search

import (
	"sync/atomic"

	"github.com/kestrelchess/core/internal/board"
)

// MateSearcher looks only for forced mates within a bounded horizon. Its
// evaluator is the constant zero: every non-zero result comes from an
// actual checkmate found during the search, never from material judgment
// (spec.md 4.4).
type MateSearcher struct {
	pos     *board.Position
	tt      *Table
	orderer *Orderer

	stop  *atomic.Bool
	nodes *atomic.Uint64

	undoStack [MaxPly]board.UndoInfo
	pv        pvTable
}

// NewMateSearcher creates a mate searcher sharing the main table so mate
// proofs are visible to the alpha-beta and MCTS searches that probe it.
func NewMateSearcher(tt *Table, stop *atomic.Bool, nodes *atomic.Uint64) *MateSearcher {
	return &MateSearcher{tt: tt, orderer: NewOrderer(), stop: stop, nodes: nodes}
}

// Search runs iterative deepening over odd depths up to maxPlies, stopping
// as soon as a mate is found at the current depth. It returns (mateScore,
// mateMove, true) on success, or (0, NoMove, false) if no mate was proven
// within maxPlies.
func (ms *MateSearcher) Search(pos *board.Position, maxPlies int) (int, board.Move, bool) {
	ms.pos = pos
	ms.orderer.Clear()

	for depth := 1; depth <= maxPlies; depth += 2 {
		if ms.stop.Load() {
			return 0, board.NoMove, false
		}
		ms.pv.length[0] = 0
		score := ms.search(depth, 0, -Infinity, Infinity)
		if ms.stop.Load() {
			return 0, board.NoMove, false
		}
		if IsMateScore(score) && score > 0 && ms.pv.length[0] > 0 {
			return score, ms.pv.moves[0][0], true
		}
	}
	return 0, board.NoMove, false
}

func (ms *MateSearcher) search(depth, ply, alpha, beta int) int {
	ms.pv.length[ply] = ply

	if n := ms.nodes.Add(1); n&2047 == 0 && ms.stop.Load() {
		return 0
	}

	alpha = max(alpha, -MateScore+ply)
	beta = min(beta, MateScore-ply-1)
	if alpha >= beta {
		return alpha
	}

	if entry, found := ms.tt.Probe(ms.pos.Hash, ply); found && entry.MateOnly && int(entry.Depth) >= depth {
		switch entry.Bound {
		case BoundExact:
			return int(entry.Score)
		case BoundLower:
			if int(entry.Score) >= beta {
				return int(entry.Score)
			}
		case BoundUpper:
			if int(entry.Score) <= alpha {
				return int(entry.Score)
			}
		}
	}

	inCheck := ms.pos.InCheck()
	if depth <= 0 {
		if inCheck {
			// Mate search never horizon-cuts a check: extend so a mate
			// one ply beyond the nominal depth is still found.
			depth = 1
		} else {
			return 0
		}
	}

	moves := ms.pos.GeneratePseudoLegalMoves()
	scores := ms.scoreMatingMoves(moves, ply)

	legalCount := 0
	bestScore := -Infinity

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		m := moves.Get(i)

		ms.undoStack[ply] = ms.pos.MakeMove(m)
		if !ms.undoStack[ply].Valid {
			continue
		}
		them := ms.pos.SideToMove
		us := them.Other()
		if ms.pos.IsSquareAttacked(ms.pos.KingSquare[us], them) {
			ms.pos.UnmakeMove(m, ms.undoStack[ply])
			continue
		}
		legalCount++

		score := -ms.search(depth-1, ply+1, -beta, -alpha)
		ms.pos.UnmakeMove(m, ms.undoStack[ply])

		if ms.stop.Load() {
			return 0
		}

		if score > bestScore {
			bestScore = score
			if score > alpha {
				alpha = score
				ms.pv.update(ply, m)
			}
		}
		if score >= beta {
			ms.storeMate(depth, score, BoundLower, m, ply)
			return score
		}
	}

	if legalCount == 0 {
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}

	bound := BoundUpper
	if bestScore > alpha {
		bound = BoundExact
	}
	ms.storeMate(depth, bestScore, bound, board.NoMove, ply)
	return bestScore
}

func (ms *MateSearcher) storeMate(depth, score int, bound Bound, best board.Move, ply int) {
	ms.tt.Store(ms.pos.Hash, depth, score, bound, best, ply)
	ms.tt.MarkMateOnly(ms.pos.Hash)
}

// scoreMatingMoves orders checks first (with MVV-LVA if the checking move
// is also a capture), then captures, then quiet moves that restrict the
// enemy king to its 5x5 neighborhood, per spec.md 4.4.
func (ms *MateSearcher) scoreMatingMoves(moves *board.MoveList, ply int) []int {
	scores := make([]int, moves.Len())
	enemyKing := ms.pos.KingSquare[ms.pos.SideToMove.Other()]
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		switch {
		case ms.pos.GivesCheck(m):
			scores[i] = 3_000_000 + ms.orderer.Score(ms.pos, m, ply, board.NoMove)
		case m.IsCapture(ms.pos):
			scores[i] = 2_000_000 + ms.orderer.Score(ms.pos, m, ply, board.NoMove)
		case kingNeighborhood(enemyKing, m.To()):
			scores[i] = 1_000_000
		default:
			scores[i] = 0
		}
	}
	return scores
}

func kingNeighborhood(king, sq board.Square) bool {
	kf, kr := int(king)%8, int(king)/8
	f, r := int(sq)%8, int(sq)/8
	df, dr := f-kf, r-kr
	if df < 0 {
		df = -df
	}
	if dr < 0 {
		dr = -dr
	}
	return df <= 2 && dr <= 2
}
