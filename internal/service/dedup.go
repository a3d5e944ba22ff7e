package service

import (
	"github.com/yinkev/Americano-sub010/internal/domain"
)

// Deduplicator collapses concept candidates that name the same concept
type Deduplicator struct {
	threshold float64
}

// NewDeduplicator creates a Deduplicator with the given fuzzy-match threshold
func NewDeduplicator(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Deduplicator{threshold: threshold}
}

// Dedupe drops duplicate candidates in two passes: exact matches on the
// normalized name first, then pairwise fuzzy comparison against already
// accepted candidates. The first occurrence wins; duplicates are dropped,
// not merged. Merging against persisted concepts happens at storage time.
func (d *Deduplicator) Dedupe(candidates []domain.ConceptCandidate) []domain.ConceptCandidate {
	if len(candidates) <= 1 {
		return candidates
	}

	seen := make(map[string]struct{}, len(candidates))
	unique := make([]domain.ConceptCandidate, 0, len(candidates))
	for _, c := range candidates {
		key := domain.NormalizeConceptName(c.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, c)
	}

	accepted := make([]domain.ConceptCandidate, 0, len(unique))
	for _, c := range unique {
		dup := false
		for i := range accepted {
			if domain.IsDuplicateName(accepted[i].Name, c.Name, d.threshold) {
				dup = true
				break
			}
		}
		if !dup {
			accepted = append(accepted, c)
		}
	}

	return accepted
}
