package domain

// ConceptCandidate is a concept proposed by the extractor but not yet
// deduplicated or persisted
type ConceptCandidate struct {
	Name        string
	Description string
	Category    ConceptCategory
}

// EmbeddingText builds the embedding input for a candidate
func (c ConceptCandidate) EmbeddingText() string {
	return ConceptEmbeddingText(c.Name, c.Description)
}
