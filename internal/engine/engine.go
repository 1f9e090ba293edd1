// Package engine implements the Hybrid Driver (spec.md 4.1): the component
// that ties the tablebase, mate searcher, alpha-beta searcher and
// tactical-first MCTS engine together into the single exposed
// search(position, limits) -> (best_move, info) operation (spec.md 6).
//
// A Driver lives here rather than in internal/search because the MCTS mode
// requires importing internal/mcts, and internal/mcts already imports
// internal/search for its shared collaborator types; putting Driver in
// internal/search would close that cycle (DESIGN.md).
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kestrelchess/core/internal/board"
	"github.com/kestrelchess/core/internal/book"
	"github.com/kestrelchess/core/internal/eval"
	"github.com/kestrelchess/core/internal/mcts"
	"github.com/kestrelchess/core/internal/policyvalue"
	"github.com/kestrelchess/core/internal/search"
	"github.com/kestrelchess/core/internal/tablebase"
)

// Mode selects which search nucleus the Driver runs for a given call,
// per spec.md 4.1's "main search" step.
type Mode int

const (
	// ModeAlphaBeta runs the classical iterative-deepening searcher.
	ModeAlphaBeta Mode = iota
	// ModeMCTS runs tactical-first Monte Carlo Tree Search.
	ModeMCTS
)

// Limits bounds one search call. Zero values mean "unbounded" for that
// dimension except where noted; the Driver always enforces at least one of
// Depth, Nodes, WallTime or Infinite so a call never spins forever.
type Limits struct {
	Depth    int           // alpha-beta: max iterative-deepening depth; 0 = use DefaultMaxDepth
	Nodes    uint64        // node budget shared by every phase the Driver runs; 0 = unbounded
	WallTime time.Duration // 0 = unbounded

	MateDepth int // plies the bounded mate search gets before falling through; spec.md 4.1

	Mode Mode

	MCTSIterations int
	CPuct          float64
	FinalSelection mcts.FinalSelection

	MultiPV int // number of distinct root lines to report; 0 or 1 means single-PV

	Infinite bool // run until Stop is observed, ignoring Depth/Nodes/WallTime
}

// DefaultMaxDepth bounds an alpha-beta search issued with Limits.Depth == 0.
const DefaultMaxDepth = 64

// DefaultMateDepth bounds the bounded mate-search step of spec.md 4.1 when
// Limits.MateDepth is left at zero: deep enough to catch short forced mates
// without materially delaying the main search on positions with none.
const DefaultMateDepth = 7

// Info reports the outcome of one Search call, per spec.md 6's exposed
// "info" fields.
type Info struct {
	BestMove board.Move
	PV       []board.Move
	Depth    int
	Nodes    uint64
	Score    int
	Elapsed  time.Duration
	HashFull int

	FromBook      bool
	FromTablebase bool
	TBOutcome     search.TablebaseOutcome

	MCTS *mcts.Info

	// MultiPVLines holds one entry per requested Multi-PV line, in best-
	// first order, when Limits.MultiPV > 1 (SPEC_FULL.md 10).
	MultiPVLines []PVLine
}

// PVLine is one line of a Multi-PV report.
type PVLine struct {
	Move  board.Move
	Score int
	PV    []board.Move
}

// Driver sequences the tablebase probe, bounded mate search and main search
// of spec.md 4.1, sharing one transposition table, stop flag and node
// counter across every phase so cancellation and hashfull reporting stay
// consistent regardless of which nucleus answers the call.
type Driver struct {
	tt  *search.Table
	eval search.Evaluator
	oracle search.PolicyValue
	book *book.Book
	tb   search.Tablebase

	nnueEval   search.Evaluator
	nnueOracle search.PolicyValue
	useNNUE    bool

	// config carries the alpha-beta and MCTS tunables SPEC_FULL.md 6.3 makes
	// UCI-settable (aspiration width, LMR thresholds, pruning toggle,
	// c_puct, fpu_reduction, pessimism k). Shared by every Searcher and MCTS
	// Engine the Driver constructs, so a UCI setoption takes effect on the
	// next Search call regardless of which nucleus runs it.
	config search.Config

	// clock is the time source Search uses for elapsed-time accounting and
	// wall-time cancellation (spec.md 6's Clock capability interface),
	// defaulting to search.SystemClock. Tests can inject a fake clock to
	// exercise deadline behavior without sleeping real time.
	clock search.Clock

	// OnDepthInfo, if set, is forwarded the alpha-beta searcher's per-depth
	// callback (spec.md 6, UCI "info depth ..." lines), translated into
	// Driver-relative elapsed time and node counts.
	OnDepthInfo func(depth, score int, nodes uint64, elapsed time.Duration, pv []board.Move)

	stop  atomic.Bool
	nodes atomic.Uint64
}

// New creates a Driver. eval must not be nil; oracle, bk and prober may be nil
// to disable the oracle, opening book and tablebase respectively (spec.md
// 4.1, 4.5's "oracle unavailable" degrade path).
func New(ttSizeMB int, eval search.Evaluator, oracle search.PolicyValue, bk *book.Book, prober tablebase.Prober) *Driver {
	return &Driver{
		tt:     search.NewTable(ttSizeMB),
		eval:   eval,
		oracle: oracle,
		book:   bk,
		tb:     newTablebaseAdapter(prober),
		config: search.DefaultConfig(),
		clock:  search.SystemClock{},
	}
}

// SetConfig replaces the shared search tunables (UCI setoption: CPuct,
// FPUReduction, PessimisticK, AspirationWindow, LMR thresholds,
// EnablePruning).
func (d *Driver) SetConfig(cfg search.Config) { d.config = cfg }

// Config returns the Driver's current tunables.
func (d *Driver) Config() search.Config { return d.config }

// SetClock overrides the Driver's time source (spec.md 6's Clock
// capability interface); defaults to search.SystemClock.
func (d *Driver) SetClock(c search.Clock) {
	if c == nil {
		c = search.SystemClock{}
	}
	d.clock = c
}

// Stop requests cancellation of any in-flight Search call.
func (d *Driver) Stop() { d.stop.Store(true) }

// Clear resets the transposition table and node counter for a new game.
func (d *Driver) Clear() {
	d.tt.Clear()
	d.nodes.Store(0)
}

// Nodes returns the total node count observed across every phase of the
// most recent Search call.
func (d *Driver) Nodes() uint64 { return d.nodes.Load() }

// HashFull returns the shared transposition table's parts-per-thousand
// occupancy, for UCI "info hashfull" reporting between searches.
func (d *Driver) HashFull() int { return d.tt.HashFull() }

// SetBook replaces the opening book, or disables it if bk is nil.
func (d *Driver) SetBook(bk *book.Book) { d.book = bk }

// SetTablebase replaces the tablebase prober, or disables probing if prober
// is nil (UCI "setoption name SyzygyPath").
func (d *Driver) SetTablebase(prober tablebase.Prober) {
	d.tb = newTablebaseAdapter(prober)
}

// LoadNNUE loads the network at path as the NNUE evaluator and, since the
// network ships with no trained policy head, as the value half of an
// NNUEOracle whose priors come from move-ordering softmax (DESIGN.md). It
// does not switch the active evaluator; call SetUseNNUE(true) for that
// (UCI "setoption name UseNNUE").
func (d *Driver) LoadNNUE(path string) error {
	e, err := eval.NewNNUE(path)
	if err != nil {
		return err
	}
	oracle, err := policyvalue.NewNNUEOracle(path)
	if err != nil {
		return err
	}
	d.nnueEval = e
	d.nnueOracle = oracle
	if d.useNNUE {
		d.eval = d.nnueEval
		d.oracle = d.nnueOracle
	}
	return nil
}

// HasNNUE reports whether LoadNNUE has succeeded at least once.
func (d *Driver) HasNNUE() bool { return d.nnueEval != nil }

// SetUseNNUE toggles between the classical evaluator the Driver was built
// with and a previously loaded NNUE network.
func (d *Driver) SetUseNNUE(use bool) {
	d.useNNUE = use
	if !use {
		return
	}
	if d.nnueEval != nil {
		d.eval = d.nnueEval
	}
	if d.nnueOracle != nil {
		d.oracle = d.nnueOracle
	}
}

// Perft counts leaf nodes at depth from pos, independent of every search
// nucleus above (UCI "perft" debug command).
func Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}
	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}
	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		undo := pos.MakeMove(m)
		nodes += Perft(pos, depth-1)
		pos.UnmakeMove(m, undo)
	}
	return nodes
}

// Search runs the Hybrid Driver's ordered pipeline of spec.md 4.1: opening
// book, tablebase, bounded mate search, then the selected main search
// nucleus. repeats may be nil for a search from a fresh game.
func (d *Driver) Search(ctx context.Context, pos *board.Position, repeats *board.RepetitionHistory, limits Limits) (board.Move, Info, error) {
	start := d.clock.Now()
	d.stop.Store(false)
	d.nodes.Store(0)

	watcherDone := make(chan struct{})
	go d.watch(ctx, limits, start, watcherDone)
	defer func() { <-watcherDone }()
	defer d.stop.Store(true)

	if m, ok := d.book.Probe(pos); ok && !limits.Infinite {
		return m, Info{BestMove: m, FromBook: true, Elapsed: d.clock.Now().Sub(start)}, nil
	}

	if d.tb != nil {
		if result, ok := d.tb.Probe(pos); ok {
			info := Info{
				FromTablebase: true,
				TBOutcome:     result.Outcome,
				Score:         tbOutcomeScore(result.Outcome),
				Elapsed:       d.clock.Now().Sub(start),
			}
			if result.BestMove != board.NoMove {
				info.BestMove = result.BestMove
				return result.BestMove, info, nil
			}
			// Outcome known but no concrete move (non-root probe); fall
			// through to the main search, which will still prefer moves
			// consistent with the known result via its own evaluator.
		}
	}

	mateDepth := limits.MateDepth
	if mateDepth == 0 {
		mateDepth = DefaultMateDepth
	}
	mateSearcher := search.NewMateSearcher(d.tt, &d.stop, &d.nodes)
	if score, m, ok := mateSearcher.Search(pos, mateDepth); ok && m != board.NoMove {
		return m, Info{
			BestMove: m,
			PV:       []board.Move{m},
			Score:    score,
			Nodes:    d.nodes.Load(),
			Elapsed:  d.clock.Now().Sub(start),
			HashFull: d.tt.HashFull(),
		}, ctx.Err()
	}
	if d.stop.Load() {
		return d.fallbackMove(pos), Info{Elapsed: d.clock.Now().Sub(start)}, ctx.Err()
	}

	if limits.MultiPV > 1 && limits.Mode == ModeAlphaBeta {
		return d.searchMultiPV(pos, repeats, limits, start)
	}

	switch limits.Mode {
	case ModeMCTS:
		return d.searchMCTS(pos, repeats, limits, start)
	default:
		return d.searchAlphaBeta(pos, repeats, limits, start)
	}
}

func (d *Driver) searchAlphaBeta(pos *board.Position, repeats *board.RepetitionHistory, limits Limits, start time.Time) (board.Move, Info, error) {
	s := search.NewSearcher(d.tt, d.eval, &d.stop, &d.nodes)
	s.SetConfig(d.config)
	if d.OnDepthInfo != nil {
		s.OnDepth = func(depth, score int, pv []board.Move) {
			d.OnDepthInfo(depth, score, d.nodes.Load(), d.clock.Now().Sub(start), pv)
		}
	}
	depth := limits.Depth
	if depth == 0 {
		depth = DefaultMaxDepth
	}
	m, score := s.Search(pos, depth, repeats)
	if m == board.NoMove {
		m = d.fallbackMove(pos)
	}
	return m, Info{
		BestMove: m,
		PV:       s.PV(),
		Score:    score,
		Nodes:    d.nodes.Load(),
		Elapsed:  d.clock.Now().Sub(start),
		HashFull: d.tt.HashFull(),
	}, nil
}

// searchMultiPV finds limits.MultiPV distinct root lines by the teacher's
// root-exclusion approach: search, record the best line, exclude its root
// move, repeat (SPEC_FULL.md 10).
func (d *Driver) searchMultiPV(pos *board.Position, repeats *board.RepetitionHistory, limits Limits, start time.Time) (board.Move, Info, error) {
	depth := limits.Depth
	if depth == 0 {
		depth = DefaultMaxDepth
	}

	s := search.NewSearcher(d.tt, d.eval, &d.stop, &d.nodes)
	s.SetConfig(d.config)
	if d.OnDepthInfo != nil {
		s.OnDepth = func(depth, score int, pv []board.Move) {
			d.OnDepthInfo(depth, score, d.nodes.Load(), d.clock.Now().Sub(start), pv)
		}
	}
	var excluded []board.Move
	var lines []PVLine

	for i := 0; i < limits.MultiPV; i++ {
		if d.stop.Load() {
			break
		}
		s.SetExcludedRootMoves(excluded)
		m, score := s.Search(pos, depth, repeats)
		if m == board.NoMove {
			break
		}
		lines = append(lines, PVLine{Move: m, Score: score, PV: s.PV()})
		excluded = append(excluded, m)
	}
	s.SetExcludedRootMoves(nil)

	info := Info{
		Nodes:        d.nodes.Load(),
		Elapsed:      d.clock.Now().Sub(start),
		HashFull:     d.tt.HashFull(),
		MultiPVLines: lines,
	}
	if len(lines) == 0 {
		fallback := d.fallbackMove(pos)
		info.BestMove = fallback
		return fallback, info, nil
	}
	info.BestMove = lines[0].Move
	info.PV = lines[0].PV
	info.Score = lines[0].Score
	info.Depth = depth
	return info.BestMove, info, nil
}

func (d *Driver) searchMCTS(pos *board.Position, repeats *board.RepetitionHistory, limits Limits, start time.Time) (board.Move, Info, error) {
	opts := mcts.OptionsFromConfig(d.config)
	if limits.MCTSIterations > 0 {
		opts.MaxIterations = limits.MCTSIterations
	}
	if limits.CPuct > 0 {
		opts.CPuct = limits.CPuct
	}
	opts.FinalSelection = limits.FinalSelection

	e := mcts.NewEngine(d.tt, d.eval, d.oracle, &d.stop, &d.nodes)
	m, mctsInfo := e.Search(pos, repeats, opts)
	if m == board.NoMove {
		m = d.fallbackMove(pos)
	}
	return m, Info{
		BestMove: m,
		PV:       []board.Move{m},
		Nodes:    d.nodes.Load(),
		Elapsed:  d.clock.Now().Sub(start),
		HashFull: d.tt.HashFull(),
		MCTS:     &mctsInfo,
	}, nil
}

// fallbackMove returns any legal move, guaranteeing Search never returns
// NoMove from a non-terminal position even if cancelled before any search
// phase completed (spec.md 5).
func (d *Driver) fallbackMove(pos *board.Position) board.Move {
	legal := pos.GenerateLegalMoves()
	if legal.Len() == 0 {
		return board.NoMove
	}
	return legal.Get(0)
}

// watch enforces Limits.WallTime and ctx cancellation by setting the shared
// stop flag, and Limits.Nodes by polling the shared counter; it never fires
// for an Infinite search except on ctx cancellation or an explicit Stop. The
// wall-time deadline is measured against d.clock (spec.md 6's Clock
// capability interface) rather than time.Now, so a fake clock can drive it
// deterministically in tests; the polling cadence itself still uses a real
// ticker, since Clock exposes no timer-construction capability.
func (d *Driver) watch(ctx context.Context, limits Limits, start time.Time, done chan struct{}) {
	defer close(done)

	var deadline time.Time
	hasDeadline := !limits.Infinite && limits.WallTime > 0
	if hasDeadline {
		deadline = start.Add(limits.WallTime)
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.stop.Store(true)
			return
		case <-ticker.C:
			if d.stop.Load() {
				return
			}
			if hasDeadline && !d.clock.Now().Before(deadline) {
				d.stop.Store(true)
				return
			}
			if !limits.Infinite && limits.Nodes > 0 && d.nodes.Load() >= limits.Nodes {
				d.stop.Store(true)
				return
			}
		}
	}
}

func tbOutcomeScore(outcome search.TablebaseOutcome) int {
	switch outcome {
	case search.TBWin:
		return search.MateScore - 1
	case search.TBCursedWin:
		return 50
	case search.TBDraw:
		return 0
	case search.TBBlessedLoss:
		return -50
	case search.TBLoss:
		return -search.MateScore + 1
	default:
		return 0
	}
}
