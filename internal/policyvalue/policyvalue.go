// Package policyvalue implements the optional PolicyValue oracle that
// tactical-first MCTS consults once per stop node (spec.md 4.5, 6). Two
// implementations are provided: NNUEOracle, which derives a value from the
// teacher's NNUE network and synthesizes priors from move-ordering scores
// (the network itself has no policy head, see DESIGN.md), and
// SigmoidFallback, the pure function of the static evaluator spec.md 4.5
// step 4 names as the degrade path when no oracle is configured.
package policyvalue

import (
	"math"

	"github.com/kestrelchess/core/internal/board"
	"github.com/kestrelchess/core/internal/eval"
	"github.com/kestrelchess/core/internal/search"
)

// NNUEOracle wraps the teacher's big NNUE network (via internal/eval.NNUE)
// as a PolicyValue oracle.
type NNUEOracle struct {
	net *eval.NNUE
}

// NewNNUEOracle loads the big network from path.
func NewNNUEOracle(path string) (*NNUEOracle, error) {
	net, err := eval.NewNNUE(path)
	if err != nil {
		return nil, err
	}
	return &NNUEOracle{net: net}, nil
}

// Infer implements search.PolicyValue. The value head comes from the NNUE
// network; priors over legal moves are synthesized by a softmax over the
// move-ordering scores used elsewhere in the core, since the network the
// teacher ships has no trained policy head (SPEC_FULL.md 6.2, Open
// Question in DESIGN.md).
func (o *NNUEOracle) Infer(pos *board.Position, legal []board.Move) (map[board.Move]float32, float32) {
	cp := o.net.Eval(pos)
	return softmaxPriors(pos, legal), float32(eval.WinProbability(cp))
}

// SigmoidFallback is the degrade path of spec.md 4.5 step 4: "If the
// oracle is unavailable, use a sigmoid over the static evaluator." It
// satisfies search.PolicyValue so the Hybrid Driver can swap it in for
// NNUEOracle without the MCTS engine knowing the difference.
type SigmoidFallback struct {
	Eval search.Evaluator
}

func (f SigmoidFallback) Infer(pos *board.Position, legal []board.Move) (map[board.Move]float32, float32) {
	cp := f.Eval.Eval(pos)
	return softmaxPriors(pos, legal), float32(eval.WinProbability(cp))
}

// softmaxPriors turns each move's ordering score (SEE/MVV-LVA/history/fork
// bonuses, already computed by the alpha-beta move orderer) into a prior
// distribution over legal moves, since no trained policy head is available
// to either oracle implementation in this repository.
func softmaxPriors(pos *board.Position, legal []board.Move) map[board.Move]float32 {
	orderer := search.NewOrderer()
	scores := make([]float64, len(legal))
	maxScore := math.Inf(-1)
	for i, m := range legal {
		s := float64(orderer.Score(pos, m, 0, board.NoMove)) / 1000
		scores[i] = s
		if s > maxScore {
			maxScore = s
		}
	}
	sum := 0.0
	exps := make([]float64, len(legal))
	for i, s := range scores {
		e := math.Exp(s - maxScore)
		exps[i] = e
		sum += e
	}
	priors := make(map[board.Move]float32, len(legal))
	for i, m := range legal {
		if sum > 0 {
			priors[m] = float32(exps[i] / sum)
		} else {
			priors[m] = float32(1.0 / float64(len(legal)))
		}
	}
	return priors
}
