package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist or has
	// been soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrStaleGeneration is returned when a processing write carries a
	// document generation that has since been replaced.
	ErrStaleGeneration = errors.New("stale document generation")
)

// DocumentStatus is the processing state of a document.
type DocumentStatus string

const (
	StatusUnprocessed        DocumentStatus = "unprocessed"
	StatusProcessing         DocumentStatus = "processing"
	StatusProcessed          DocumentStatus = "processed"
	StatusPartiallyProcessed DocumentStatus = "partially_processed"
	StatusFailed             DocumentStatus = "failed"
)

// Role is a user's role within a course.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleInstructor
}

type Course struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

type Document struct {
	ID              string
	CourseID        string
	Title           string
	Content         string
	Status          DocumentStatus
	ProcessingError string
	Generation      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Chunk is one ordinal window of a document. Embedding is nil when
// generation failed; Error then holds the reason.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Embedding  []float32
	Error      string
}

// ScopedChunk is a chunk together with the title of its document, as read
// for retrieval within a course.
type ScopedChunk struct {
	Chunk
	DocumentTitle string
}

// ChunkStats summarizes a document's chunk list.
type ChunkStats struct {
	Total    int
	Embedded int
}

// JobStatus is the lifecycle state of a queued processing job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job asks the worker pool to index one generation of a document.
type Job struct {
	ID          string
	DocumentID  string
	Generation  int
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
