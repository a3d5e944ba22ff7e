package domain

import "fmt"

// PrerequisiteEdge is a dependency between two learning objectives,
// maintained by the curriculum service and read here to project
// prerequisite relationships onto concepts
type PrerequisiteEdge struct {
	FromObjectiveID string
	ToObjectiveID   string
	FromText        string
	ToText          string
	Confidence      float64
}

// ValidatePrerequisiteEdge validates a PrerequisiteEdge instance
func ValidatePrerequisiteEdge(e *PrerequisiteEdge) error {
	if e == nil {
		return fmt.Errorf("prerequisite edge cannot be nil")
	}

	if e.FromObjectiveID == "" {
		return fmt.Errorf("prerequisite edge FromObjectiveID is required")
	}

	if e.ToObjectiveID == "" {
		return fmt.Errorf("prerequisite edge ToObjectiveID is required")
	}

	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("prerequisite edge Confidence must be within [0, 1]: %f", e.Confidence)
	}

	return nil
}
