package domain

import "strings"

const (
	// containmentSimilarity is the score assigned when one normalized name
	// contains the other ("cardiac conduction" vs "cardiac conduction system").
	containmentSimilarity = 0.95

	// minContainmentLength guards short fragments like "cell" from matching
	// every longer name they appear in.
	minContainmentLength = 4
)

// NormalizeConceptName lowercases a name, trims it and collapses internal
// whitespace. All name comparisons and the storage uniqueness rule operate
// on the normalized form.
func NormalizeConceptName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// CanonicalConceptName trims a name and collapses internal whitespace while
// preserving case. Concepts are stored under their canonical name, so
// lowercasing a stored name always yields its normalized form.
func CanonicalConceptName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NameSimilarity scores how alike two concept names are on a [0, 1] scale.
// Exact normalized matches score 1.0, containment scores 0.95, everything
// else falls back to Jaccard overlap of the token sets.
func NameSimilarity(a, b string) float64 {
	na := NormalizeConceptName(a)
	nb := NormalizeConceptName(b)

	if na == "" || nb == "" {
		return 0
	}

	if na == nb {
		return 1
	}

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) >= minContainmentLength && strings.Contains(longer, shorter) {
		return containmentSimilarity
	}

	return jaccard(tokenSet(na), tokenSet(nb))
}

// IsDuplicateName reports whether two names are close enough to be treated
// as the same concept at the given threshold.
func IsDuplicateName(a, b string, threshold float64) bool {
	return NameSimilarity(a, b) >= threshold
}

// TokenCoverage returns the fraction of the name's tokens that appear in
// the text. Used to match objective descriptions against concept names.
func TokenCoverage(text, name string) float64 {
	nameTokens := tokenSet(NormalizeConceptName(name))
	if len(nameTokens) == 0 {
		return 0
	}

	textTokens := tokenSet(NormalizeConceptName(text))
	covered := 0
	for tok := range nameTokens {
		if _, ok := textTokens[tok]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(nameTokens))
}

// ContainsConceptName reports whether the normalized concept name occurs as
// a substring of the normalized text.
func ContainsConceptName(text, name string) bool {
	nn := NormalizeConceptName(name)
	if nn == "" {
		return false
	}
	return strings.Contains(NormalizeConceptName(text), nn)
}

func tokenSet(normalized string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
