package search

import "github.com/kestrelchess/core/internal/board"

// Bound indicates how a stored score relates to the true minimax value.
type Bound uint8

const (
	BoundExact Bound = iota // true score equals Score
	BoundLower               // true score >= Score (failed high / beta cutoff)
	BoundUpper               // true score <= Score (failed low)
)

// ttSlotsPerBucket is the number of entries searched on a probe/store before
// falling back to the replacement policy, per spec.md 4.6 ("N slots per
// bucket, e.g. 4").
const ttSlotsPerBucket = 4

// TTEntry is one transposition-table slot.
type TTEntry struct {
	Key      uint32     // upper 32 bits of the Zobrist key, for collision detection
	BestMove board.Move // best move found (ply-independent, not mate-adjusted)
	Score    int16      // score, stored root-independent (see AdjustScoreToTT)
	Depth    int16      // depth this entry was searched to
	Bound    Bound
	Age      uint8
	MateOnly bool // written by MateSearcher; never trusted for a static score
	used     bool
}

type ttBucket [ttSlotsPerBucket]TTEntry

// Table is a fixed-size, open-addressed transposition table keyed by
// Zobrist hash. Each bucket holds ttSlotsPerBucket entries; replacement
// favors an exact-key match, then an empty slot, then the slot with the
// smallest (depth, age) tuple, per spec.md 4.6.
type Table struct {
	buckets []ttBucket
	mask    uint64
	age     uint8

	probes uint64
	hits   uint64
}

// NewTable creates a transposition table sized to approximately sizeMB
// megabytes, rounded down to a power-of-two number of buckets.
func NewTable(sizeMB int) *Table {
	bucketSize := uint64(ttSlotsPerBucket) * 16 // approx bytes per TTEntry
	numBuckets := (uint64(sizeMB) * 1024 * 1024) / bucketSize
	numBuckets = roundDownToPowerOf2(numBuckets)
	if numBuckets == 0 {
		numBuckets = 1
	}
	return &Table{
		buckets: make([]ttBucket, numBuckets),
		mask:    numBuckets - 1,
	}
}

func roundDownToPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// Probe returns the entry stored for hash, if any, with Score adjusted from
// its root-independent storage form back to the querying ply. The caller
// is responsible for checking entry.Depth against the requested depth
// before trusting it for a cutoff; the best move is valid to try first
// regardless of depth.
func (tt *Table) Probe(hash uint64, ply int) (TTEntry, bool) {
	tt.probes++
	bucket := &tt.buckets[hash&tt.mask]
	upper := uint32(hash >> 32)
	for i := range bucket {
		e := &bucket[i]
		if e.used && e.Key == upper {
			tt.hits++
			out := *e
			out.Score = int16(AdjustScoreFromTT(int(out.Score), ply))
			return out, true
		}
	}
	return TTEntry{}, false
}

// Store writes an entry for hash. score is in the querying ply's frame and
// is converted to the root-independent storage form internally.
func (tt *Table) Store(hash uint64, depth int, score int, bound Bound, best board.Move, ply int) {
	bucket := &tt.buckets[hash&tt.mask]
	upper := uint32(hash >> 32)
	stored := TTEntry{
		Key:      upper,
		BestMove: best,
		Score:    int16(AdjustScoreToTT(score, ply)),
		Depth:    int16(depth),
		Bound:    bound,
		Age:      tt.age,
		used:     true,
	}

	// Prefer to refresh the existing entry for this exact position.
	for i := range bucket {
		e := &bucket[i]
		if e.used && e.Key == upper {
			if depth >= int(e.Depth) || e.Age != tt.age {
				if best == board.NoMove && stored.BestMove == board.NoMove {
					stored.BestMove = e.BestMove
				}
				*e = stored
			}
			return
		}
	}

	// Then an empty slot.
	for i := range bucket {
		if !bucket[i].used {
			bucket[i] = stored
			return
		}
	}

	// Otherwise replace the slot with the smallest (depth, age) tuple.
	worst := 0
	worstScore := tt.replacementScore(&bucket[0])
	for i := 1; i < ttSlotsPerBucket; i++ {
		s := tt.replacementScore(&bucket[i])
		if s < worstScore {
			worstScore = s
			worst = i
		}
	}
	bucket[worst] = stored
}

// replacementScore ranks a slot for eviction: stale-generation entries are
// always worse than current-generation entries of any depth, and within a
// generation shallower entries are worse.
func (tt *Table) replacementScore(e *TTEntry) int {
	if !e.used {
		return -1 << 30
	}
	score := int(e.Depth)
	if e.Age != tt.age {
		score -= 1024
	}
	return score
}

// NewSearch increments the generation counter. Entries from the previous
// generation become preferred replacement targets.
func (tt *Table) NewSearch() {
	tt.age++
}

// MarkMateOnly flags the entry matching hash, if present, as written by the
// mate searcher rather than the main evaluator, so the main search never
// confuses a mate-only bound with an exact static score (spec.md 4.4).
func (tt *Table) MarkMateOnly(hash uint64) {
	bucket := &tt.buckets[hash&tt.mask]
	upper := uint32(hash >> 32)
	for i := range bucket {
		if bucket[i].used && bucket[i].Key == upper {
			bucket[i].MateOnly = true
			return
		}
	}
}

// Clear empties the table and resets statistics, for a new-game signal.
func (tt *Table) Clear() {
	for i := range tt.buckets {
		tt.buckets[i] = ttBucket{}
	}
	tt.age = 0
	tt.probes = 0
	tt.hits = 0
}

// HashFull returns parts-per-thousand occupancy of the current generation,
// sampled from the first 1000 buckets' first slot (UCI "hashfull").
func (tt *Table) HashFull() int {
	sample := 1000
	if uint64(sample) > uint64(len(tt.buckets)) {
		sample = len(tt.buckets)
	}
	if sample == 0 {
		return 0
	}
	used := 0
	for i := 0; i < sample; i++ {
		if tt.buckets[i][0].used && tt.buckets[i][0].Age == tt.age {
			used++
		}
	}
	return used * 1000 / sample
}

// HitRate returns the probe hit rate as a percentage, for diagnostics.
func (tt *Table) HitRate() float64 {
	if tt.probes == 0 {
		return 0
	}
	return float64(tt.hits) / float64(tt.probes) * 100
}

// Buckets returns the number of buckets in the table.
func (tt *Table) Buckets() uint64 {
	return uint64(len(tt.buckets))
}

// AdjustScoreFromTT converts a root-independent stored score back to the
// frame of the given ply. Mate scores are stored as a distance from the
// position where they were found rather than a distance from the search
// root, so the same entry remains valid no matter how far from the root
// the position is reached again (spec.md 4.6, 9).
func AdjustScoreFromTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score - ply
	}
	if score < -MateScore+MaxPly {
		return score + ply
	}
	return score
}

// AdjustScoreToTT is the inverse of AdjustScoreFromTT, applied before
// storing a score computed at the given ply.
func AdjustScoreToTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score + ply
	}
	if score < -MateScore+MaxPly {
		return score - ply
	}
	return score
}
