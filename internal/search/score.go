package search

// Score bounds, per spec.md 3 ("Score is an integer in centipawns, or a
// mate-distance encoding near +/-Infinity") and 4.4 (mate search ply bound).
const (
	Infinity  = 30000
	MateScore = 29000
	MaxPly    = 128
)

// MateIn converts a number of plies-to-mate (from the side to move's
// perspective, at the current ply) into a root-relative mate score.
func MateIn(ply int) int {
	return MateScore - ply
}

// MatedIn is the symmetric losing form of MateIn.
func MatedIn(ply int) int {
	return -MateScore + ply
}

// IsMateScore reports whether score represents a forced mate rather than a
// material evaluation, per spec.md 9 ("scores within MaxPly of +/-MateScore
// are mate scores, everything else is material").
func IsMateScore(score int) bool {
	return score > MateScore-MaxPly || score < -MateScore+MaxPly
}

// MateDistance returns the number of plies to the mate represented by score,
// positive if the side to move delivers it, negative if it is delivered
// against them. Only meaningful when IsMateScore(score) is true.
func MateDistance(score int) int {
	if score > 0 {
		return MateScore - score
	}
	return -MateScore - score
}
