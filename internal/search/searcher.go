package search

import (
	"sync/atomic"

	"github.com/kestrelchess/core/internal/board"
)

// nullMoveMinDepth, nullMoveBaseReduction and lmrMinDepth follow spec.md
// 4.2 steps 5 and 7b directly; they are small named constants rather than
// the teacher's depth/move-count-scaled formula, since the spec calls for
// a fixed R in {2,3} and r in {1,2}.
const (
	nullMoveMinDepth      = 3
	nullMoveBaseReduction = 2
	nullMoveDeepReduction = 3
	lmrMinDepth           = 3
	lmrMinMoveIndex       = 4 // first few non-captures are never reduced

	// rfpMaxDepth/rfpMarginPerDepth and razorMaxDepth/razorMargin are the
	// reverse futility pruning and razoring thresholds SPEC_FULL.md 6.3
	// names as an additive enhancement over spec.md 4.2, gated behind
	// Config.EnablePruning.
	rfpMaxDepth       = 8
	rfpMarginPerDepth = 85
	razorMaxDepth     = 2
	razorMargin       = 300
)

// Searcher runs alpha-beta iterative deepening against a single position.
// It owns the move orderer and correction history for one search and uses
// a transposition table passed in by its creator; the Hybrid Driver owns the shared stop flag and
// node counter that make cancellation visible across the alpha-beta, mate,
// and MCTS searches it coordinates (spec.md 5).
type Searcher struct {
	pos     *board.Position
	eval    Evaluator
	tt      *Table
	orderer *Orderer
	repeats *board.RepetitionHistory
	corr    *CorrectionHistory

	stop  *atomic.Bool
	nodes *atomic.Uint64

	config Config

	pv        pvTable
	undoStack [MaxPly]board.UndoInfo

	rootBestMove  board.Move
	rootBestScore int

	// excludeRoot holds root moves skipped entirely, used by Multi-PV to
	// find the second, third, ... best move by excluding moves already
	// reported (ported from the teacher's SearchMultiPV root-exclusion
	// approach; spec.md does not mention Multi-PV, see SPEC_FULL.md 10).
	excludeRoot map[board.Move]bool

	// OnDepth, if set, is called after every completed iterative-deepening
	// depth with that depth's best move, score and PV, letting a UCI front
	// end emit "info depth ..." lines without the Driver re-implementing
	// iterative deepening itself.
	OnDepth func(depth, score int, pv []board.Move)
}

// SetExcludedRootMoves restricts the root move loop to skip the given
// moves, for Multi-PV root-exclusion searches. Pass nil to clear.
func (s *Searcher) SetExcludedRootMoves(moves []board.Move) {
	if len(moves) == 0 {
		s.excludeRoot = nil
		return
	}
	s.excludeRoot = make(map[board.Move]bool, len(moves))
	for _, m := range moves {
		s.excludeRoot[m] = true
	}
}

// NewSearcher creates a Searcher sharing tt, stop and nodes with whatever
// else the driver is coordinating (mate search, MCTS oracle calls).
func NewSearcher(tt *Table, eval Evaluator, stop *atomic.Bool, nodes *atomic.Uint64) *Searcher {
	return &Searcher{
		tt:      tt,
		eval:    eval,
		orderer: NewOrderer(),
		corr:    NewCorrectionHistory(),
		stop:    stop,
		nodes:   nodes,
		config:  DefaultConfig(),
	}
}

// SetConfig overrides the searcher's tunables (SPEC_FULL.md 6.3), e.g. from
// UCI setoption commands.
func (s *Searcher) SetConfig(cfg Config) { s.config = cfg }

// Search runs iterative deepening from pos up to maxDepth, or until stop is
// observed, returning the best move and score found by the last fully
// completed depth (spec.md 4.2, "Iterative deepening"). repeats provides
// the game history so repetitions straddling the search root are detected;
// it may be nil.
func (s *Searcher) Search(pos *board.Position, maxDepth int, repeats *board.RepetitionHistory) (board.Move, int) {
	s.pos = pos
	s.repeats = repeats
	if s.repeats == nil {
		s.repeats = board.NewRepetitionHistory(nil)
	}
	s.orderer.Clear()
	s.tt.NewSearch()

	score := 0
	window := s.config.AspirationWindow
	for depth := 1; depth <= maxDepth; depth++ {
		if s.stop.Load() {
			break
		}

		alpha, beta := -Infinity, Infinity
		if depth >= 4 {
			alpha, beta = score-window, score+window
		}

		for {
			s.pv.length[0] = 0
			iterScore := s.negamax(depth, 0, alpha, beta)
			if s.stop.Load() {
				break
			}
			if iterScore <= alpha {
				alpha -= window
				window *= 2
				continue
			}
			if iterScore >= beta {
				beta += window
				window *= 2
				continue
			}
			score = iterScore
			break
		}

		if s.stop.Load() {
			break
		}
		window = s.config.AspirationWindow
		if s.pv.length[0] > 0 {
			s.rootBestMove = s.pv.moves[0][0]
			s.rootBestScore = score
			if s.OnDepth != nil {
				s.OnDepth(depth, score, s.PV())
			}
		}
	}

	return s.rootBestMove, s.rootBestScore
}

// PV returns the principal variation found by the most recent completed
// iteration.
func (s *Searcher) PV() []board.Move { return s.pv.line() }

// Nodes returns the shared node counter's current value.
func (s *Searcher) Nodes() uint64 { return s.nodes.Load() }

// negamax implements spec.md 4.2's strict order of operations.
func (s *Searcher) negamax(depth, ply int, alpha, beta int) int {
	s.pv.length[ply] = ply

	if n := s.nodes.Add(1); n&2047 == 0 && s.stop.Load() {
		return 0
	}

	// Mate distance pruning (spec.md 4.2, "Mate distance pruning").
	alpha = max(alpha, -MateScore+ply)
	beta = min(beta, MateScore-ply-1)
	if alpha >= beta {
		return alpha
	}

	if ply > 0 && s.isDraw() {
		return 0
	}

	var ttMove board.Move
	entry, found := s.tt.Probe(s.pos.Hash, ply)
	if found {
		ttMove = entry.BestMove
		if !entry.MateOnly && int(entry.Depth) >= depth {
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
	}

	if depth <= 0 {
		return s.quiescence(ply, alpha, beta)
	}

	inCheck := s.pos.InCheck()
	if inCheck {
		depth++
	}

	staticEval := s.eval.Eval(s.pos) + s.corr.Get(s.pos)

	// Reverse futility pruning and razoring (SPEC_FULL.md 6.3 enhancement
	// over the literal spec.md 4.2 algorithm): skippable via
	// Config.EnablePruning, and both already excluded whenever mate
	// distance pruning or check extension applies, since both require
	// !inCheck and a non-mate beta.
	if s.config.EnablePruning && !inCheck && ply > 0 && !IsMateScore(beta) {
		if depth <= rfpMaxDepth && staticEval-rfpMarginPerDepth*depth >= beta {
			return staticEval
		}
		if depth <= razorMaxDepth && staticEval+razorMargin < alpha {
			if razorScore := s.quiescence(ply, alpha, beta); razorScore < alpha {
				return razorScore
			}
		}
	}

	// Null-move pruning (spec.md 4.2 step 5).
	if !inCheck && ply > 0 && depth >= nullMoveMinDepth && s.pos.HasNonPawnMaterial() && staticEval >= beta {
		r := nullMoveBaseReduction
		if depth >= 6 {
			r = nullMoveDeepReduction
		}
		undo := s.makeNull()
		score := -s.negamax(depth-1-r, ply+1, -beta, -beta+1)
		s.unmakeNull(undo)
		if s.stop.Load() {
			return 0
		}
		if score >= beta {
			return beta
		}
	}

	moves := s.pos.GeneratePseudoLegalMoves()
	if moves.Len() == 0 {
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}
	scores := s.orderer.ScoreAll(s.pos, moves, ply, ttMove)

	bestScore := -Infinity
	bestMove := board.NoMove
	bound := BoundUpper
	legalCount := 0
	var quietsTried []board.Move

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		m := moves.Get(i)

		if ply == 0 && s.excludeRoot[m] {
			continue
		}

		s.undoStack[ply] = s.pos.MakeMove(m)
		if !s.undoStack[ply].Valid || !s.isLegalAfterMake() {
			if s.undoStack[ply].Valid {
				s.pos.UnmakeMove(m, s.undoStack[ply])
			}
			continue
		}
		legalCount++
		s.repeats.Push(s.pos.Hash)

		givesCheck := s.pos.InCheck()

		var score int
		isQuiet := !wasCaptureOrPromo(m, &s.undoStack[ply])
		if legalCount == 1 {
			score = -s.negamax(depth-1, ply+1, -beta, -alpha)
		} else {
			reduced := depth - 1
			doLMR := isQuiet && !givesCheck && depth >= s.config.LMRMinDepth && legalCount > s.config.LMRMinMoveIndex
			if doLMR {
				r := 1
				if legalCount > 10 && depth > 6 {
					r = 2
				}
				reduced = depth - 1 - r
				if reduced < 0 {
					reduced = 0
				}
			}
			score = -s.negamax(reduced, ply+1, -alpha-1, -alpha)
			if score > alpha && score < beta {
				score = -s.negamax(depth-1, ply+1, -beta, -alpha)
			}
		}

		s.repeats.Pop()
		s.pos.UnmakeMove(m, s.undoStack[ply])

		if s.stop.Load() {
			return 0
		}

		if isQuiet {
			quietsTried = append(quietsTried, m)
		}

		if score > bestScore {
			bestScore = score
			bestMove = m
			if score > alpha {
				alpha = score
				bound = BoundExact
				s.pv.update(ply, m)
			}
		}

		if score >= beta {
			if isQuiet {
				s.orderer.UpdateKillers(m, ply)
				s.orderer.UpdateHistory(s.pos.SideToMove, m, depth, true)
			}
			for _, qm := range quietsTried {
				if qm != m {
					s.orderer.UpdateHistory(s.pos.SideToMove, qm, depth, false)
				}
			}
			s.tt.Store(s.pos.Hash, depth, score, BoundLower, m, ply)
			return score
		}
	}

	if legalCount == 0 {
		if ply == 0 && len(s.excludeRoot) > 0 {
			// Every root move was excluded (Multi-PV asked for more lines
			// than legal moves exist); not a real terminal position.
			return bestScore
		}
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}

	if !inCheck && bound == BoundUpper {
		s.corr.Update(s.pos, bestScore, staticEval, depth)
	}

	s.tt.Store(s.pos.Hash, depth, bestScore, bound, bestMove, ply)
	return bestScore
}

// isLegalAfterMake reports whether the move just made left the mover's own
// king in check. Position.KingSquare is kept live across MakeMove, so this
// reads the post-move square directly rather than relying on undo state.
func (s *Searcher) isLegalAfterMake() bool {
	them := s.pos.SideToMove // side to move now is the opponent of the mover
	us := them.Other()
	ksq := s.pos.KingSquare[us]
	return !s.pos.IsSquareAttacked(ksq, them)
}

func wasCaptureOrPromo(m board.Move, undo *board.UndoInfo) bool {
	return undo.CapturedPiece != board.NoPiece || m.IsPromotion() || m.IsEnPassant()
}

// makeNull plays a null move: flip side to move, clear en passant, leave
// everything else untouched. Unlike board.Position.MakeNullMove it does not
// recompute Checkers: null moves are only tried when the side to move is not
// in check, so Checkers is already empty and stays correct.
type nullUndo struct {
	enPassant board.Square
	hash      uint64
}

func (s *Searcher) makeNull() nullUndo {
	u := nullUndo{enPassant: s.pos.EnPassant, hash: s.pos.Hash}
	if s.pos.EnPassant != board.NoSquare {
		s.pos.Hash ^= board.ZobristEnPassant(s.pos.EnPassant.File())
		s.pos.EnPassant = board.NoSquare
	}
	s.pos.Hash ^= board.ZobristSideToMove()
	s.pos.SideToMove = s.pos.SideToMove.Other()
	return u
}

func (s *Searcher) unmakeNull(u nullUndo) {
	s.pos.SideToMove = s.pos.SideToMove.Other()
	s.pos.EnPassant = u.enPassant
	s.pos.Hash = u.hash
}

// isDraw reports repetition, 50-move, and insufficient-material draws
// (spec.md 4.2 step 1).
func (s *Searcher) isDraw() bool {
	if s.pos.HalfMoveClock >= 100 {
		return true
	}
	if s.pos.IsInsufficientMaterial() {
		return true
	}
	if s.repeats.Count(s.pos.Hash) >= 1 {
		return true
	}
	return false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
