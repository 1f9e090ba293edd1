package engine

import (
	"github.com/kestrelchess/core/internal/board"
	"github.com/kestrelchess/core/internal/search"
	"github.com/kestrelchess/core/internal/tablebase"
)

// tablebaseAdapter bridges internal/tablebase.Prober (WDL/DTZ, found as two
// separate Probe/ProbeRoot calls) onto search.Tablebase's single-call
// outcome enum, the shape the Hybrid Driver's collaborators expect
// (spec.md 4.1, 6). It is kept here rather than in internal/tablebase since
// search.Tablebase and tablebase.Prober only meet at the Driver.
type tablebaseAdapter struct {
	prober tablebase.Prober
}

func newTablebaseAdapter(p tablebase.Prober) search.Tablebase {
	if p == nil {
		return nil
	}
	return tablebaseAdapter{prober: p}
}

func (a tablebaseAdapter) Probe(pos *board.Position) (search.TablebaseResult, bool) {
	if !a.prober.Available() || tablebase.CountPieces(pos) > a.prober.MaxPieces() {
		return search.TablebaseResult{}, false
	}

	root := a.prober.ProbeRoot(pos)
	if root.Found {
		return search.TablebaseResult{
			Outcome:  outcomeFromWDL(root.WDL),
			BestMove: root.Move,
		}, true
	}

	probe := a.prober.Probe(pos)
	if !probe.Found {
		return search.TablebaseResult{}, false
	}
	return search.TablebaseResult{Outcome: outcomeFromWDL(probe.WDL)}, true
}

func outcomeFromWDL(wdl tablebase.WDL) search.TablebaseOutcome {
	switch wdl {
	case tablebase.WDLWin:
		return search.TBWin
	case tablebase.WDLCursedWin:
		return search.TBCursedWin
	case tablebase.WDLDraw:
		return search.TBDraw
	case tablebase.WDLBlessedLoss:
		return search.TBBlessedLoss
	case tablebase.WDLLoss:
		return search.TBLoss
	default:
		return search.TBUnknown
	}
}
