package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrNoExtractableJSON    = NewDomainError(ErrCodeValidation, "completion contains no extractable JSON object")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrConceptNotFound       = NewDomainError(ErrCodeNotFound, "concept not found")
	ErrRelationshipNotFound  = NewDomainError(ErrCodeNotFound, "concept relationship not found")
	ErrGraphBuildJobNotFound = NewDomainError(ErrCodeNotFound, "graph build job not found")
)

// Already exists errors
var (
	ErrConceptAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "concept already exists")
)

// Operation errors
var (
	ErrBuildAlreadyRunning = NewDomainError(ErrCodeInvalidOperation, "a graph build is already running for this scope")
	ErrSnapshotDisabled    = NewDomainError(ErrCodeInvalidOperation, "snapshot export requires object storage configuration")
)
