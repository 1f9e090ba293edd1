package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrelchess/core/internal/board"
	"github.com/kestrelchess/core/internal/eval"
	"github.com/kestrelchess/core/internal/search"
)

// fakeClock advances by step on every Now() call, letting a test drive
// Driver's wall-time cancellation deterministically instead of racing real
// wall time.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newTestDriver() *Driver {
	return New(4, eval.NewClassical(1), nil, nil, nil)
}

func TestDriverBackRankMateViaMateSearch(t *testing.T) {
	pos, err := board.ParseFEN("6k1/5ppp/8/8/8/8/8/R6K w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	d := newTestDriver()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, info, err := d.Search(ctx, pos, nil, Limits{MateDepth: 1})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if m.From() != board.A1 || m.To() != board.A8 {
		t.Fatalf("expected a1a8, got from=%d to=%d", m.From(), m.To())
	}
	if info.Score != search.MateIn(1) {
		t.Fatalf("expected score %d, got %d", search.MateIn(1), info.Score)
	}
}

func TestDriverStalemateReturnsNoLegalMove(t *testing.T) {
	pos, err := board.ParseFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if pos.GenerateLegalMoves().Len() != 0 {
		t.Fatalf("expected a stalemate position")
	}
	d := newTestDriver()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m, _, err := d.Search(ctx, pos, nil, Limits{Depth: 4})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if m != board.NoMove {
		t.Fatalf("expected NoMove from a stalemate position, got %v", m)
	}
}

func TestDriverAlphaBetaSearchReturnsLegalMove(t *testing.T) {
	d := newTestDriver()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, info, err := d.Search(ctx, board.NewPosition(), nil, Limits{Depth: 5})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if m == board.NoMove {
		t.Fatalf("expected a legal move from the starting position")
	}
	if info.Nodes == 0 {
		t.Fatalf("expected nonzero node count")
	}
}

func TestDriverMCTSSearchReturnsLegalMove(t *testing.T) {
	d := newTestDriver()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, info, err := d.Search(ctx, board.NewPosition(), nil, Limits{Mode: ModeMCTS, MCTSIterations: 300})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if m == board.NoMove {
		t.Fatalf("expected a legal move from MCTS")
	}
	if info.MCTS == nil {
		t.Fatalf("expected MCTS info to be populated")
	}
}

func TestDriverMultiPVReturnsDistinctMoves(t *testing.T) {
	d := newTestDriver()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, info, err := d.Search(ctx, board.NewPosition(), nil, Limits{Depth: 4, MultiPV: 3})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(info.MultiPVLines) != 3 {
		t.Fatalf("expected 3 multi-PV lines, got %d", len(info.MultiPVLines))
	}
	seen := map[board.Move]bool{}
	for _, line := range info.MultiPVLines {
		if seen[line.Move] {
			t.Fatalf("duplicate move %v across multi-PV lines", line.Move)
		}
		seen[line.Move] = true
	}
}

func TestDriverWallTimeCancellation(t *testing.T) {
	d := newTestDriver()
	ctx := context.Background()

	start := time.Now()
	m, _, err := d.Search(ctx, board.NewPosition(), nil, Limits{Depth: 64, WallTime: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("search ran too long past its wall-time limit: %v", elapsed)
	}
	if m == board.NoMove {
		t.Fatalf("expected a fallback legal move when cancelled")
	}
}

// TestDriverWallTimeCancellationUsesInjectedClock confirms Driver's deadline
// accounting goes through search.Clock rather than reading time.Now
// directly: a fake clock that advances a minute per read blows past any real
// WallTime limit on the very first watch poll.
func TestDriverWallTimeCancellationUsesInjectedClock(t *testing.T) {
	d := newTestDriver()
	d.SetClock(&fakeClock{now: time.Unix(0, 0), step: time.Minute})
	ctx := context.Background()

	start := time.Now()
	m, _, err := d.Search(ctx, board.NewPosition(), nil, Limits{Depth: 64, WallTime: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("search did not stop promptly once the fake clock passed its deadline: %v", elapsed)
	}
	if m == board.NoMove {
		t.Fatalf("expected a fallback legal move when cancelled")
	}
}
