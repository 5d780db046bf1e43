package pipeline

import (
	"importflow/internal/recent"
	"importflow/internal/util"
)

type MatchResult struct {
	Name    string
	Matched bool
	Score   float64
}

// CustomerMatcher snaps an extracted customer name onto one the operator used
// recently, so "Ana Perez" and "ANA PÉREZ" from two screenshots land in the
// same group.
type CustomerMatcher struct {
	store     recent.Store
	threshold float64
}

func NewCustomerMatcher(store recent.Store, threshold float64) *CustomerMatcher {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &CustomerMatcher{store: store, threshold: threshold}
}

func (m *CustomerMatcher) Match(name string) MatchResult {
	name = util.CleanCustomerName(name)
	if name == "" || m == nil || m.store == nil {
		return MatchResult{Name: name}
	}

	best, score, ok := util.ClosestName(name, m.store.List(), m.threshold)
	if ok {
		return MatchResult{Name: best, Matched: best != name, Score: score}
	}
	return MatchResult{Name: name, Score: score}
}
