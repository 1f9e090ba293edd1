package search

import (
	"sync/atomic"
	"testing"

	"github.com/kestrelchess/core/internal/board"
)

func constantEval(v int) Evaluator {
	return EvaluatorFunc(func(pos *board.Position) int { return v })
}

func newTestSearcher(eval Evaluator) *Searcher {
	var stop atomic.Bool
	var nodes atomic.Uint64
	return NewSearcher(NewTable(1), eval, &stop, &nodes)
}

// Fork best-in-2, spec.md 8 scenario 2: alpha-beta must return a legal move
// with a score bounded away from mate.
func TestSearchForkPosition(t *testing.T) {
	pos, err := board.ParseFEN("r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	s := newTestSearcher(constantEval(0))
	m, score := s.Search(pos, 6, nil)
	if m == board.NoMove {
		t.Fatalf("expected a legal move, got NoMove")
	}
	if score <= -MateScore+MaxPly || score >= MateScore-MaxPly {
		t.Fatalf("score %d not bounded away from mate", score)
	}
}

// Starting-position determinism, spec.md 8 scenario 3: fixed evaluator, two
// runs to the same depth produce the same move and score.
func TestSearchDeterminism(t *testing.T) {
	run := func() (board.Move, int) {
		s := newTestSearcher(constantEval(0))
		return s.Search(board.NewPosition(), 5, nil)
	}
	m1, s1 := run()
	m2, s2 := run()
	if m1 != m2 || s1 != s2 {
		t.Fatalf("nondeterministic search: (%v,%d) vs (%v,%d)", m1, s1, m2, s2)
	}
}

// Stalemate draw, spec.md 8 scenario 4.
func TestSearchStalemateDraw(t *testing.T) {
	pos, err := board.ParseFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if pos.GenerateLegalMoves().Len() != 0 {
		t.Fatalf("expected stalemate position to have no legal moves")
	}
	if pos.InCheck() {
		t.Fatalf("expected stalemate position not to be in check")
	}
	s := newTestSearcher(constantEval(500))
	score := s.negamax(1, 0, -Infinity, Infinity)
	if score != 0 {
		t.Fatalf("expected stalemate score 0, got %d", score)
	}
}

// Threefold repetition, spec.md 8 scenario 5: a position already reached
// once before root (so the third occurrence is reached inside the search
// tree) scores as a draw regardless of material imbalance.
func TestSearchThreefoldRepetitionDraw(t *testing.T) {
	pos := board.NewPosition()
	repeats := board.NewRepetitionHistory([]uint64{pos.Hash})

	s := newTestSearcher(constantEval(500))
	s.pos = pos
	s.repeats = repeats
	s.tt.NewSearch()
	s.orderer.Clear()

	score := s.negamax(1, 1, -Infinity, Infinity)
	if score != 0 {
		t.Fatalf("expected repetition draw at ply>0, got %d", score)
	}
}

// TT cutoff reproducibility, spec.md 8 scenario 6: a warm table produces
// fewer nodes on a second identical search while returning the same move.
func TestSearchWarmTTReducesNodes(t *testing.T) {
	pos, err := board.ParseFEN("4k3/8/4K3/4P3/8/8/8/8 w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	tt := NewTable(4)
	var stop atomic.Bool
	var nodes1, nodes2 atomic.Uint64

	s1 := NewSearcher(tt, constantEval(0), &stop, &nodes1)
	m1, _ := s1.Search(pos, 8, nil)

	s2 := NewSearcher(tt, constantEval(0), &stop, &nodes2)
	m2, _ := s2.Search(pos, 8, nil)

	if m1 != m2 {
		t.Fatalf("best move changed between cold and warm TT runs: %v vs %v", m1, m2)
	}
	if nodes2.Load() >= nodes1.Load() {
		t.Fatalf("expected warm-TT run to search fewer nodes: cold=%d warm=%d", nodes1.Load(), nodes2.Load())
	}
}

// EnablePruning=false disables reverse futility pruning and razoring
// (SPEC_FULL.md 6.3), degrading the searcher to the literal spec.md 4.2
// procedure; it must still return a legal move, and disabling an additive
// speed optimization must not search fewer nodes than leaving it on.
func TestSearchConfigEnablePruningTogglesRFPAndRazoring(t *testing.T) {
	pos, err := board.ParseFEN("r1bqkb1r/pppp1ppp/2n2n2/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R w KQkq - 4 4")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	var stopPruned, stopUnpruned atomic.Bool
	var nodesPruned, nodesUnpruned atomic.Uint64

	pruned := NewSearcher(NewTable(1), constantEval(0), &stopPruned, &nodesPruned)
	mPruned, _ := pruned.Search(pos, 6, nil)
	if mPruned == board.NoMove {
		t.Fatalf("expected a legal move with pruning enabled")
	}

	unpruned := NewSearcher(NewTable(1), constantEval(0), &stopUnpruned, &nodesUnpruned)
	cfg := DefaultConfig()
	cfg.EnablePruning = false
	unpruned.SetConfig(cfg)
	mUnpruned, _ := unpruned.Search(pos, 6, nil)
	if mUnpruned == board.NoMove {
		t.Fatalf("expected a legal move with pruning disabled")
	}

	if nodesUnpruned.Load() < nodesPruned.Load() {
		t.Fatalf("expected disabling pruning to search at least as many nodes: pruned=%d unpruned=%d", nodesPruned.Load(), nodesUnpruned.Load())
	}
}

func TestMateDistanceMonotonicity(t *testing.T) {
	shortMate := MateIn(1)
	longMate := MateIn(3)
	if !(shortMate > longMate) {
		t.Fatalf("expected MateIn(1) > MateIn(3), got %d <= %d", shortMate, longMate)
	}
	if MateDistance(shortMate) != 1 {
		t.Fatalf("expected mate distance 1, got %d", MateDistance(shortMate))
	}
	if got := MatedIn(2); !IsMateScore(got) || got >= 0 {
		t.Fatalf("MatedIn(2) should be a negative mate score, got %d", got)
	}
}
