// Package storage persists engine session state across process restarts:
// named search-configuration profiles, a rolling log of completed
// searches, and an optional tablebase probe cache, all backed by BadgerDB
// the way the teacher's storage layer persisted user preferences and game
// statistics (SPEC_FULL.md 6.4).
package storage

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kestrelchess/core/internal/tablebase"
)

const (
	prefixProfile   = "profile:"
	prefixLog       = "log:"
	prefixTablebase = "tb:"
	keyLogSequence  = "log_seq"
)

// Mode mirrors engine.Mode without importing internal/engine, which itself
// imports internal/storage's sibling packages; stored as a plain string so
// a profile's on-disk form never depends on the Mode enum's numeric values.
type Mode string

const (
	ModeAlphaBeta Mode = "alphabeta"
	ModeMCTS      Mode = "mcts"
)

// FinalSelection mirrors mcts.FinalSelection for the same reason.
type FinalSelection string

const (
	SelectionRobust      FinalSelection = "robust"
	SelectionPessimistic FinalSelection = "pessimistic"
)

// Profile is a named, persisted search-configuration preset, the on-disk
// form of an engine.Limits value (SPEC_FULL.md 10, Multi-PV and MCTS
// options made durable across UCI sessions).
type Profile struct {
	Name           string         `json:"name"`
	Mode           Mode           `json:"mode"`
	Depth          int            `json:"depth"`
	Nodes          uint64         `json:"nodes"`
	WallTime       time.Duration  `json:"wall_time"`
	MateDepth      int            `json:"mate_depth"`
	MCTSIterations int            `json:"mcts_iterations"`
	CPuct          float64        `json:"cpuct"`
	FinalSelection FinalSelection `json:"final_selection"`
	MultiPV        int            `json:"multi_pv"`
}

// SearchLogEntry records one completed Driver.Search call.
type SearchLogEntry struct {
	FEN       string        `json:"fen"`
	Mode      Mode          `json:"mode"`
	BestMove  string        `json:"best_move"`
	Score     int           `json:"score"`
	Nodes     uint64        `json:"nodes"`
	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`
}

// Storage wraps BadgerDB for persistent engine session state.
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewStorage opens (creating if needed) the engine session database under
// the platform data directory.
func NewStorage() (*Storage, error) {
	dbDir, err := GetDatabaseDir()
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence([]byte(keyLogSequence), 100)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db, seq: seq}, nil
}

// Close releases the log sequence lease and closes the database.
func (s *Storage) Close() error {
	if s.seq != nil {
		s.seq.Release()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveProfile persists a named search-configuration profile, overwriting
// any existing profile with the same name.
func (s *Storage) SaveProfile(p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixProfile+p.Name), data)
	})
}

// LoadProfile loads a named profile. The second return value is false if
// no profile with that name exists.
func (s *Storage) LoadProfile(name string) (Profile, bool, error) {
	var p Profile
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixProfile + name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})

	return p, found, err
}

// ListProfiles returns every saved profile.
func (s *Storage) ListProfiles() ([]Profile, error) {
	var profiles []Profile

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixProfile)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p Profile
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			profiles = append(profiles, p)
		}
		return nil
	})

	return profiles, err
}

// AppendSearchLog records a completed search, keyed by a monotonically
// increasing sequence number so RecentSearchLog can page back from the
// newest entry.
func (s *Storage) AppendSearchLog(entry SearchLogEntry) error {
	entry.Timestamp = time.Now()

	n, err := s.seq.Next()
	if err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := make([]byte, len(prefixLog)+8)
	copy(key, prefixLog)
	binary.BigEndian.PutUint64(key[len(prefixLog):], n)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// RecentSearchLog returns up to limit of the most recently appended search
// log entries, newest first.
func (s *Storage) RecentSearchLog(limit int) ([]SearchLogEntry, error) {
	var entries []SearchLogEntry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixLog)
		seekKey := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			var e SearchLogEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})

	return entries, err
}

// CacheTablebaseProbe stores a tablebase probe result keyed by Zobrist
// hash, so a repeated probe against the same position (common across MCTS
// iterations and transposing search lines) can skip the table lookup.
func (s *Storage) CacheTablebaseProbe(hash uint64, result tablebase.ProbeResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	key := make([]byte, len(prefixTablebase)+8)
	copy(key, prefixTablebase)
	binary.BigEndian.PutUint64(key[len(prefixTablebase):], hash)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// LoadTablebaseProbe returns a cached probe result for hash, if present.
func (s *Storage) LoadTablebaseProbe(hash uint64) (tablebase.ProbeResult, bool, error) {
	var result tablebase.ProbeResult
	found := false

	key := make([]byte, len(prefixTablebase)+8)
	copy(key, prefixTablebase)
	binary.BigEndian.PutUint64(key[len(prefixTablebase):], hash)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})

	return result, found, err
}
