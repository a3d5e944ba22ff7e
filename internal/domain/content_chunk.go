package domain

import (
	"fmt"
	"time"
)

// ChunkStatus represents the upstream processing state of a content chunk
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
)

// ContentChunk is a segment of processed lecture content. Chunks are
// produced by the ingest service; the graph pipeline only reads them.
type ContentChunk struct {
	ID         string
	LectureID  string
	CourseID   string
	ChunkIndex int32
	Text       string
	Status     ChunkStatus
	CreatedAt  time.Time
}

// NewContentChunk creates a new ContentChunk instance
func NewContentChunk(
	id, lectureID, courseID string,
	chunkIndex int32,
	text string,
	status ChunkStatus,
	createdAt time.Time,
) *ContentChunk {
	return &ContentChunk{
		ID:         id,
		LectureID:  lectureID,
		CourseID:   courseID,
		ChunkIndex: chunkIndex,
		Text:       text,
		Status:     status,
		CreatedAt:  createdAt,
	}
}

// ValidateContentChunk validates a ContentChunk instance
func ValidateContentChunk(c *ContentChunk) error {
	if c == nil {
		return fmt.Errorf("content chunk cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("content chunk ID is required")
	}

	if c.LectureID == "" {
		return fmt.Errorf("content chunk LectureID is required")
	}

	if c.ChunkIndex < 0 {
		return fmt.Errorf("content chunk ChunkIndex cannot be negative")
	}

	if !isValidChunkStatus(c.Status) {
		return fmt.Errorf("content chunk Status is invalid: %s", c.Status)
	}

	return nil
}

// isValidChunkStatus checks if a ChunkStatus is valid
func isValidChunkStatus(s ChunkStatus) bool {
	switch s {
	case ChunkStatusPending, ChunkStatusProcessing, ChunkStatusCompleted, ChunkStatusFailed:
		return true
	}
	return false
}
