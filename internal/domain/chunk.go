package domain

import "time"

// Chunk represents a contiguous span of a document's extracted text, the
// atomic unit of retrieval. Offsets are relative to the normalized source
// text. Chunks are immutable once written and are removed when the parent
// document is deleted.
type Chunk struct {
	ID         string
	DocumentID string
	OwnerID    string
	ChunkIndex int
	StartIndex int
	EndIndex   int
	Content    string
	Page       int
	TokenCount int
	Embedding  []float32
	CreatedAt  time.Time
}
