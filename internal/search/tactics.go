package search

import (
	"github.com/kestrelchess/core/internal/board"
	"github.com/kestrelchess/core/internal/eval"
)

// ForkBonus adds a move-ordering bonus for quiet knight and pawn forks, per
// spec.md 4.7: a knight move is a fork if its destination attacks two or
// more enemy pieces worth at least a knight; a pawn move is a fork if its
// two diagonal attack squares hold two or more enemy non-pawns. The bonus
// is only meaningful for quiet moves; captures are already scored by SEE.
func ForkBonus(pos *board.Position, m board.Move) int {
	attacker := pos.PieceAt(m.From())
	if attacker == board.NoPiece {
		return 0
	}
	them := attacker.Color().Other()

	switch attacker.Type() {
	case board.Knight:
		attacks := board.KnightAttacks(m.To())
		return knightForkBonus(pos, attacks, them)
	case board.Pawn:
		attacks := board.PawnAttacks(m.To(), attacker.Color())
		return pawnForkBonus(pos, attacks, them)
	default:
		return 0
	}
}

func knightForkBonus(pos *board.Position, attacks board.Bitboard, them board.Color) int {
	targets := attacks & pos.Occupied[them] &^ pos.Pieces[them][board.Pawn]
	count := 0
	gain := 0
	for targets != 0 {
		sq := targets.PopLSB()
		victim := pos.PieceAt(sq)
		if victim == board.NoPiece {
			continue
		}
		count++
		gain += eval.PieceValues[victim.Type()]
	}
	if count < 2 {
		return 0
	}
	bonus := gain - eval.KnightValue
	if bonus < 0 {
		bonus = 0
	}
	return 1500 + bonus
}

func pawnForkBonus(pos *board.Position, attacks board.Bitboard, them board.Color) int {
	targets := attacks & pos.Occupied[them] &^ pos.Pieces[them][board.Pawn]
	if targets.PopCount() >= 2 {
		return 1200
	}
	return 0
}

// TacticalMoves returns the legal moves from pos classified as tactical,
// ordered per spec.md 4.5: captures by MVV-LVA descending with SEE >= 0
// first and losing captures appended at the tail, then knight forks, then
// pawn forks, then non-capture checks, de-duplicated by move identity
// (earliest category wins). It is computed once per MCTS node and also
// backs the alpha-beta move orderer's classification of quiet moves.
func TacticalMoves(pos *board.Position, legal *board.MoveList) []board.Move {
	seen := make(map[board.Move]bool, legal.Len())
	var winning, losing, knightForks, pawnForks, checks []board.Move

	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		if m.IsCapture(pos) {
			if SEE(pos, m) >= 0 {
				winning = append(winning, m)
			} else {
				losing = append(losing, m)
			}
			seen[m] = true
		}
	}
	sortByMVVLVA(pos, winning)
	sortByMVVLVA(pos, losing)

	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		if seen[m] {
			continue
		}
		piece := pos.PieceAt(m.From())
		if piece.Type() == board.Knight && knightForkBonus(pos, board.KnightAttacks(m.To()), piece.Color().Other()) > 0 {
			knightForks = append(knightForks, m)
			seen[m] = true
		}
	}

	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		if seen[m] {
			continue
		}
		piece := pos.PieceAt(m.From())
		if piece.Type() == board.Pawn && pawnForkBonus(pos, board.PawnAttacks(m.To(), piece.Color()), piece.Color().Other()) > 0 {
			pawnForks = append(pawnForks, m)
			seen[m] = true
		}
	}

	for i := 0; i < legal.Len(); i++ {
		m := legal.Get(i)
		if seen[m] {
			continue
		}
		if pos.GivesCheck(m) {
			checks = append(checks, m)
			seen[m] = true
		}
	}

	out := make([]board.Move, 0, len(winning)+len(knightForks)+len(pawnForks)+len(checks)+len(losing))
	out = append(out, winning...)
	out = append(out, knightForks...)
	out = append(out, pawnForks...)
	out = append(out, checks...)
	out = append(out, losing...)
	return out
}

func sortByMVVLVA(pos *board.Position, moves []board.Move) {
	scores := make([]int, len(moves))
	for i, m := range moves {
		attacker := pos.PieceAt(m.From())
		var victim board.PieceType
		if m.IsEnPassant() {
			victim = board.Pawn
		} else {
			victim = pos.PieceAt(m.To()).Type()
		}
		scores[i] = mvvLva(victim, attacker.Type())
	}
	for i := 1; i < len(moves); i++ {
		for j := i; j > 0 && scores[j] > scores[j-1]; j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
			moves[j], moves[j-1] = moves[j-1], moves[j]
		}
	}
}
