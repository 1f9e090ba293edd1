package search

import "github.com/kestrelchess/core/internal/board"

const maxQuiescencePly = MaxPly - 1

// quiescence searches captures, promotions, and (while in check) evasions
// until the position is quiet, per spec.md 4.3.
func (s *Searcher) quiescence(ply, alpha, beta int) int {
	if n := s.nodes.Add(1); n&2047 == 0 && s.stop.Load() {
		return 0
	}
	if ply >= maxQuiescencePly {
		return s.eval.Eval(s.pos)
	}

	inCheck := s.pos.InCheck()

	var standPat int
	if !inCheck {
		standPat = s.eval.Eval(s.pos)
		if standPat >= beta {
			return standPat
		}
		if standPat > alpha {
			alpha = standPat
		}
	}

	var moves *board.MoveList
	if inCheck {
		moves = s.pos.GeneratePseudoLegalMoves()
	} else {
		moves = s.pos.GenerateCaptures()
	}
	if moves.Len() == 0 {
		if inCheck {
			return -MateScore + ply
		}
		return alpha
	}

	scores := s.orderer.ScoreAll(s.pos, moves, ply, board.NoMove)

	bestScore := alpha
	if inCheck {
		bestScore = -Infinity
	}
	legalCount := 0

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		m := moves.Get(i)

		if !inCheck {
			if !m.IsCapture(s.pos) && !m.IsPromotion() {
				continue
			}
			if SEE(s.pos, m) < 0 {
				continue
			}
		}

		undo := s.pos.MakeMove(m)
		if !undo.Valid {
			continue
		}
		them := s.pos.SideToMove
		us := them.Other()
		if s.pos.IsSquareAttacked(s.pos.KingSquare[us], them) {
			s.pos.UnmakeMove(m, undo)
			continue
		}
		legalCount++

		score := -s.quiescence(ply+1, -beta, -alpha)
		s.pos.UnmakeMove(m, undo)

		if s.stop.Load() {
			return 0
		}

		if score > bestScore {
			bestScore = score
		}
		if score >= beta {
			return score
		}
		if score > alpha {
			alpha = score
		}
	}

	if inCheck && legalCount == 0 {
		return -MateScore + ply
	}
	return bestScore
}
