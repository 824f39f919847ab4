package airank

import (
	"sort"

	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/scoring"
)

const (
	DefaultTopK = 100

	// relaxedToleranceFloor widens the amount tolerance so the model sees
	// candidates a strict heuristic pass would drop.
	relaxedToleranceFloor = 3
)

// Scored pairs a candidate with its relaxed heuristic score.
type Scored struct {
	Candidate paymentdomain.Candidate
	Result    *scoring.Result
}

// Prefilter keeps the k direction-compatible candidates with the best relaxed
// heuristic totals, ordered by total descending then id ascending.
func Prefilter(s scoring.Scorer, candidates []paymentdomain.Candidate, comp domain.Composite, p scoring.Params, k int) []Scored {
	if k <= 0 {
		k = DefaultTopK
	}
	p.ToleranceFloor = relaxedToleranceFloor

	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		res := s.Score(c, comp, p)
		if res == nil {
			continue
		}
		out = append(out, Scored{Candidate: c, Result: res})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Result.Total != out[j].Result.Total {
			return out[i].Result.Total > out[j].Result.Total
		}
		return out[i].Candidate.ID < out[j].Candidate.ID
	})

	if len(out) > k {
		out = out[:k]
	}
	return out
}

// IDs returns the allowed id set of a prefilter result.
func IDs(items []Scored) map[int64]struct{} {
	set := make(map[int64]struct{}, len(items))
	for _, item := range items {
		set[item.Candidate.ID] = struct{}{}
	}
	return set
}
