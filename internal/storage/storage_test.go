package storage

import (
	"os"
	"testing"

	"github.com/kestrelchess/core/internal/tablebase"
)

// newTestStorage opens a Storage backed by a temp directory by pointing
// XDG_DATA_HOME there, the same env var GetDataDir already honors on
// non-darwin, non-windows platforms.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmpDir)

	s, err := NewStorage()
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	p := Profile{
		Name:           "fast",
		Mode:           ModeAlphaBeta,
		Depth:          6,
		Nodes:          500000,
		MateDepth:      5,
		FinalSelection: SelectionRobust,
		MultiPV:        1,
	}
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	got, found, err := s.LoadProfile("fast")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if !found {
		t.Fatalf("expected profile %q to be found", p.Name)
	}
	if got != p {
		t.Fatalf("round-tripped profile mismatch: got %+v, want %+v", got, p)
	}

	_, found, err = s.LoadProfile("missing")
	if err != nil {
		t.Fatalf("LoadProfile(missing): %v", err)
	}
	if found {
		t.Fatalf("expected missing profile to not be found")
	}
}

func TestListProfiles(t *testing.T) {
	s := newTestStorage(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := s.SaveProfile(Profile{Name: name, Mode: ModeMCTS}); err != nil {
			t.Fatalf("SaveProfile(%s): %v", name, err)
		}
	}

	profiles, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(profiles))
	}
}

func TestSearchLogOrdering(t *testing.T) {
	s := newTestStorage(t)

	fens := []string{"fen-1", "fen-2", "fen-3"}
	for _, fen := range fens {
		if err := s.AppendSearchLog(SearchLogEntry{FEN: fen, Mode: ModeAlphaBeta, Score: 10}); err != nil {
			t.Fatalf("AppendSearchLog(%s): %v", fen, err)
		}
	}

	entries, err := s.RecentSearchLog(2)
	if err != nil {
		t.Fatalf("RecentSearchLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].FEN != "fen-3" || entries[1].FEN != "fen-2" {
		t.Fatalf("expected newest-first ordering, got %q then %q", entries[0].FEN, entries[1].FEN)
	}
}

func TestTablebaseProbeCache(t *testing.T) {
	s := newTestStorage(t)

	const hash = uint64(0xdeadbeef)
	want := tablebase.ProbeResult{Found: true, WDL: tablebase.WDLWin, DTZ: 12}

	if err := s.CacheTablebaseProbe(hash, want); err != nil {
		t.Fatalf("CacheTablebaseProbe: %v", err)
	}

	got, found, err := s.LoadTablebaseProbe(hash)
	if err != nil {
		t.Fatalf("LoadTablebaseProbe: %v", err)
	}
	if !found {
		t.Fatalf("expected cached probe to be found")
	}
	if got != want {
		t.Fatalf("cached probe mismatch: got %+v, want %+v", got, want)
	}

	_, found, err = s.LoadTablebaseProbe(hash + 1)
	if err != nil {
		t.Fatalf("LoadTablebaseProbe(miss): %v", err)
	}
	if found {
		t.Fatalf("expected a cache miss for an unseen hash")
	}
}

func TestDataPaths(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmpDir)

	dataDir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir failed: %v", err)
	}
	if dataDir == "" {
		t.Error("GetDataDir returned empty path")
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		t.Errorf("data directory was not created: %s", dataDir)
	}
}
