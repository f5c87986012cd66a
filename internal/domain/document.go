package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	DocumentStatusUploading  DocumentStatus = "uploading"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document represents one uploaded file and its ingestion state.
type Document struct {
	ID         string
	OwnerID    string
	Filename   string
	MimeType   string
	StorageKey string
	SizeBytes  int64
	Status     DocumentStatus
	TotalPages int
	ChunkCount int
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewDocument creates a new Document in the uploading state.
func NewDocument(id, ownerID, filename, mimeType, storageKey string, createdAt time.Time) *Document {
	return &Document{
		ID:         id,
		OwnerID:    ownerID,
		Filename:   filename,
		MimeType:   mimeType,
		StorageKey: storageKey,
		Status:     DocumentStatusUploading,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.OwnerID == "" {
		return fmt.Errorf("document OwnerID is required")
	}

	if d.Filename == "" {
		return fmt.Errorf("document Filename is required")
	}

	if d.StorageKey == "" {
		return fmt.Errorf("document StorageKey is required")
	}

	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}

	return nil
}

// IsTerminal reports whether the status admits no further transitions.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusFailed
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// Terminal states are closed except for an explicit re-process, which the
// caller expresses as a transition back to processing.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case DocumentStatusUploading:
		return next == DocumentStatusProcessing || next == DocumentStatusFailed
	case DocumentStatusProcessing:
		return next == DocumentStatusCompleted || next == DocumentStatusFailed
	case DocumentStatusCompleted, DocumentStatusFailed:
		return false
	}
	return false
}

// isValidDocumentStatus checks if a DocumentStatus is valid
func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusUploading, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}
