package domain

import (
	"fmt"
	"time"
)

// ConceptCategory classifies a medical concept by discipline
type ConceptCategory string

const (
	ConceptCategoryAnatomy      ConceptCategory = "anatomy"
	ConceptCategoryPhysiology   ConceptCategory = "physiology"
	ConceptCategoryPathology    ConceptCategory = "pathology"
	ConceptCategoryPharmacology ConceptCategory = "pharmacology"
	ConceptCategoryBiochemistry ConceptCategory = "biochemistry"
	ConceptCategoryMicrobiology ConceptCategory = "microbiology"
	ConceptCategoryImmunology   ConceptCategory = "immunology"
	ConceptCategoryClinical     ConceptCategory = "clinical"
)

// Concept represents a node in the knowledge graph
type Concept struct {
	ID          string
	Name        string
	Description string
	Category    ConceptCategory
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewConcept creates a new Concept instance
func NewConcept(
	id, name, description string,
	category ConceptCategory,
	embedding []float32,
	createdAt, updatedAt time.Time,
) *Concept {
	return &Concept{
		ID:          id,
		Name:        CanonicalConceptName(name),
		Description: description,
		Category:    category,
		Embedding:   embedding,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// EmbeddingText returns the text a concept is embedded from
func (c *Concept) EmbeddingText() string {
	return ConceptEmbeddingText(c.Name, c.Description)
}

// ConceptEmbeddingText builds the canonical embedding input for a concept
func ConceptEmbeddingText(name, description string) string {
	return fmt.Sprintf("%s: %s", name, description)
}

// ValidateConcept validates a Concept instance
func ValidateConcept(c *Concept) error {
	if c == nil {
		return fmt.Errorf("concept cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("concept ID is required")
	}

	if c.Name == "" {
		return fmt.Errorf("concept Name is required")
	}

	if !isValidConceptCategory(c.Category) {
		return fmt.Errorf("concept Category is invalid: %s", c.Category)
	}

	return nil
}

// NormalizeCategory maps a raw category string onto the category enum.
// Unknown or empty values fall back to the clinical bucket.
func NormalizeCategory(raw string) ConceptCategory {
	c := ConceptCategory(NormalizeConceptName(raw))
	if isValidConceptCategory(c) {
		return c
	}
	return ConceptCategoryClinical
}

// isValidConceptCategory checks if a ConceptCategory is valid
func isValidConceptCategory(c ConceptCategory) bool {
	switch c {
	case ConceptCategoryAnatomy, ConceptCategoryPhysiology, ConceptCategoryPathology,
		ConceptCategoryPharmacology, ConceptCategoryBiochemistry, ConceptCategoryMicrobiology,
		ConceptCategoryImmunology, ConceptCategoryClinical:
		return true
	}
	return false
}
