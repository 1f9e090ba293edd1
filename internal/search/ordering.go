package search

import (
	"github.com/kestrelchess/core/internal/board"
)

// Move ordering score bands, highest first (spec.md 4.7):
// TT move > winning/equal captures (SEE >= 0) by MVV-LVA > killers >
// quiet moves by history + fork/check bonuses > losing captures.
const (
	ttMoveScore    = 20_000_000
	winningCapture = 10_000_000
	killerScore1   = 9_000_000
	killerScore2   = 8_500_000
	quietBase      = 0
	losingCapture  = -10_000_000
)

// mvvLva scores captures by victim_value*16 - attacker_value, per spec.md
// 4.7, using ordinal (not centipawn) piece ranks 1..6 so the table stays
// small and collision-free regardless of the evaluator's material scale.
var mvvLvaRank = [6]int{1, 2, 3, 4, 5, 6} // Pawn..King

func mvvLva(victim, attacker board.PieceType) int {
	return mvvLvaRank[victim]*16 - mvvLvaRank[attacker]
}

// Orderer holds the per-search move-ordering state: killer moves per ply
// and the history heuristic, per spec.md 3 ("Killer Table", "History
// Table").
type Orderer struct {
	killers [MaxPly][2]board.Move
	history [2][64][64]int32 // [color][from][to]
}

// NewOrderer creates an empty move orderer.
func NewOrderer() *Orderer {
	return &Orderer{}
}

// Clear resets killers and halves history scores, matching the teacher's
// between-searches aging convention (spec.md 4.7: "periodic halving...
// prevents overflow and keeps recency weighting").
func (o *Orderer) Clear() {
	for i := range o.killers {
		o.killers[i][0] = board.NoMove
		o.killers[i][1] = board.NoMove
	}
	o.halveHistory()
}

func (o *Orderer) halveHistory() {
	for c := range o.history {
		for f := range o.history[c] {
			for t := range o.history[c][f] {
				o.history[c][f][t] /= 2
			}
		}
	}
}

// Score returns the ordering score for a single pseudo-legal move, used by
// ScoreAll and directly by callers that only need one move's score (e.g.
// checking whether the TT move ranks as a winning capture).
func (o *Orderer) Score(pos *board.Position, m board.Move, ply int, ttMove board.Move) int {
	if m == ttMove {
		return ttMoveScore
	}

	if m.IsCapture(pos) {
		attacker := pos.PieceAt(m.From())
		if attacker == board.NoPiece {
			return winningCapture
		}
		var victim board.PieceType
		if m.IsEnPassant() {
			victim = board.Pawn
		} else {
			capturedPiece := pos.PieceAt(m.To())
			if capturedPiece == board.NoPiece {
				return winningCapture
			}
			victim = capturedPiece.Type()
		}
		if victim >= board.King || attacker.Type() > board.King {
			return winningCapture
		}

		see := SEE(pos, m)
		ordinal := mvvLva(victim, attacker.Type())
		if see >= 0 {
			return winningCapture + ordinal*100 + see
		}
		return losingCapture + ordinal*100 + see
	}

	if m.IsPromotion() {
		return winningCapture - 1000 + int(m.Promotion())*100
	}

	if m == o.killers[ply][0] {
		return killerScore1
	}
	if m == o.killers[ply][1] {
		return killerScore2
	}

	us := pos.SideToMove
	score := quietBase + int(o.history[us][m.From()][m.To()])
	score += ForkBonus(pos, m)
	if pos.GivesCheck(m) {
		score += checkBonus(m)
	}
	return score
}

// checkBonus gives a small, central-square-weighted bonus to non-capture
// checks, per spec.md 4.7 ("Check-giving moves get a smaller bonus plus a
// centrality adjustment").
func checkBonus(m board.Move) int {
	const base = 4000
	return base + centrality(m.To())
}

func centrality(sq board.Square) int {
	file := int(sq) % 8
	rank := int(sq) / 8
	fileEdgeDist := min(file, 7-file)
	rankEdgeDist := min(rank, 7-rank)
	return fileEdgeDist + rankEdgeDist
}

// ScoreAll scores every move in moves for the given ply and TT move.
func (o *Orderer) ScoreAll(pos *board.Position, moves *board.MoveList, ply int, ttMove board.Move) []int {
	scores := make([]int, moves.Len())
	for i := 0; i < moves.Len(); i++ {
		scores[i] = o.Score(pos, moves.Get(i), ply, ttMove)
	}
	return scores
}

// PickMove selects the move with the highest remaining score and swaps it
// into position index, enabling lazy partial-selection-sort move picking
// (spec.md design intent: only sort as many moves as get searched).
func PickMove(moves *board.MoveList, scores []int, index int) {
	best := index
	for j := index + 1; j < moves.Len(); j++ {
		if scores[j] > scores[best] {
			best = j
		}
	}
	if best != index {
		moves.Swap(index, best)
		scores[index], scores[best] = scores[best], scores[index]
	}
}

// UpdateKillers records a quiet beta-cutoff move as a killer at ply,
// keeping at most two per spec.md 3 ("up to two non-capture moves").
func (o *Orderer) UpdateKillers(m board.Move, ply int) {
	if ply >= MaxPly {
		return
	}
	if o.killers[ply][0] == m {
		return
	}
	o.killers[ply][1] = o.killers[ply][0]
	o.killers[ply][0] = m
}

// UpdateHistory applies the depth^2 cutoff bonus (or malus for quiet moves
// searched but not cut off) described in spec.md 3/4.7, clamped and
// periodically halved to bound growth.
func (o *Orderer) UpdateHistory(us board.Color, m board.Move, depth int, good bool) {
	bonus := int32(depth * depth)
	from, to := m.From(), m.To()
	if good {
		o.history[us][from][to] += bonus
		if o.history[us][from][to] > 400_000 {
			o.halveHistory()
		}
	} else {
		o.history[us][from][to] -= bonus
		if o.history[us][from][to] < -400_000 {
			o.history[us][from][to] = -400_000
		}
	}
}

// HistoryScore returns the raw history score for a quiet move.
func (o *Orderer) HistoryScore(us board.Color, m board.Move) int {
	return int(o.history[us][m.From()][m.To()])
}
