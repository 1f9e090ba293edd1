package search

import (
	"sync/atomic"
	"testing"

	"github.com/kestrelchess/core/internal/board"
)

// Back-rank mate in 1, spec.md 8 scenario 1.
func TestMateSearcherBackRankMateInOne(t *testing.T) {
	pos, err := board.ParseFEN("6k1/5ppp/8/8/8/8/8/R6K w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	var stop atomic.Bool
	var nodes atomic.Uint64
	ms := NewMateSearcher(NewTable(1), &stop, &nodes)

	score, move, found := ms.Search(pos, 1)
	if !found {
		t.Fatalf("expected a mate to be found")
	}
	if want := MateIn(1); score != want {
		t.Fatalf("expected score %d, got %d", want, score)
	}
	wantFrom, wantTo := board.A1, board.A8
	if move.From() != wantFrom || move.To() != wantTo {
		t.Fatalf("expected a1a8, got from=%d to=%d", move.From(), move.To())
	}
}

func TestMateSearcherNoMateReturnsFalse(t *testing.T) {
	var stop atomic.Bool
	var nodes atomic.Uint64
	ms := NewMateSearcher(NewTable(1), &stop, &nodes)

	_, _, found := ms.Search(board.NewPosition(), 3)
	if found {
		t.Fatalf("expected no mate from the starting position within 3 plies")
	}
}
