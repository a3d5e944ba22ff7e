package domain

import (
	"fmt"
	"time"
)

// RelationshipType represents the kind of edge between two concepts
type RelationshipType string

const (
	RelationshipTypeRelated      RelationshipType = "RELATED"
	RelationshipTypeIntegrated   RelationshipType = "INTEGRATED"
	RelationshipTypePrerequisite RelationshipType = "PREREQUISITE"
)

// ConceptRelationship represents a typed, weighted edge in the knowledge graph
type ConceptRelationship struct {
	ID            string
	FromConceptID string
	ToConceptID   string
	Type          RelationshipType
	Strength      float64
	IsUserDefined bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewConceptRelationship creates a new ConceptRelationship instance
func NewConceptRelationship(
	id, fromConceptID, toConceptID string,
	relType RelationshipType,
	strength float64,
	isUserDefined bool,
	createdAt, updatedAt time.Time,
) *ConceptRelationship {
	return &ConceptRelationship{
		ID:            id,
		FromConceptID: fromConceptID,
		ToConceptID:   toConceptID,
		Type:          relType,
		Strength:      strength,
		IsUserDefined: isUserDefined,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

// IsDirectional reports whether edge direction carries meaning for a type.
// RELATED and INTEGRATED edges are symmetric and stored once per pair.
func (t RelationshipType) IsDirectional() bool {
	return t == RelationshipTypePrerequisite
}

// ValidateConceptRelationship validates a ConceptRelationship instance
func ValidateConceptRelationship(r *ConceptRelationship) error {
	if r == nil {
		return fmt.Errorf("relationship cannot be nil")
	}

	if r.FromConceptID == "" {
		return fmt.Errorf("relationship FromConceptID is required")
	}

	if r.ToConceptID == "" {
		return fmt.Errorf("relationship ToConceptID is required")
	}

	if r.FromConceptID == r.ToConceptID {
		return fmt.Errorf("relationship cannot link a concept to itself")
	}

	if !isValidRelationshipType(r.Type) {
		return fmt.Errorf("relationship Type is invalid: %s", r.Type)
	}

	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("relationship Strength must be within [0, 1]: %f", r.Strength)
	}

	return nil
}

// isValidRelationshipType checks if a RelationshipType is valid
func isValidRelationshipType(t RelationshipType) bool {
	switch t {
	case RelationshipTypeRelated, RelationshipTypeIntegrated, RelationshipTypePrerequisite:
		return true
	}
	return false
}
