package service

import (
	"context"
	"log"

	"github.com/cloo-solutions/docuchat/internal/telemetry"
)

const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// chunk to count as relevant context.
	DefaultSimilarityThreshold = 0.5
	// DefaultRetrievalLimit caps the number of chunks fed into a prompt.
	DefaultRetrievalLimit = 5
)

// RetrievedChunk is one chunk returned by similarity search, joined with
// its document metadata.
type RetrievedChunk struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	Page         int
	Content      string
	Similarity   float64
}

// RetrievalResult carries the retrieved context. Degraded marks results
// produced by the recency fallback rather than similarity search.
type RetrievalResult struct {
	Chunks   []RetrievedChunk
	Degraded bool
}

// ChunkSearchRepository is the vector search surface retrieval depends on.
type ChunkSearchRepository interface {
	MatchChunks(ctx context.Context, ownerID string, embedding []float32, threshold float64, limit int) ([]RetrievedChunk, error)
	RecentChunks(ctx context.Context, ownerID string, limit int) ([]RetrievedChunk, error)
}

// RetrievalService finds the chunks most relevant to a query embedding.
// If similarity search fails it falls back to the owner's most recent
// chunks so a chat turn can still proceed, flagged as degraded.
type RetrievalService struct {
	chunkRepo ChunkSearchRepository
	threshold float64
	limit     int
}

func NewRetrievalService(chunkRepo ChunkSearchRepository) *RetrievalService {
	return &RetrievalService{
		chunkRepo: chunkRepo,
		threshold: DefaultSimilarityThreshold,
		limit:     DefaultRetrievalLimit,
	}
}

// SetThreshold overrides the similarity cutoff.
func (s *RetrievalService) SetThreshold(threshold float64) {
	s.threshold = threshold
}

// SetLimit overrides the maximum number of retrieved chunks.
func (s *RetrievalService) SetLimit(limit int) {
	s.limit = limit
}

// Retrieve returns up to limit chunks above the similarity threshold,
// ordered most similar first. An empty result with a nil error means no
// document content was relevant to the query.
func (s *RetrievalService) Retrieve(ctx context.Context, ownerID string, embedding []float32) (*RetrievalResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "retrieve",
	})
	defer span.End()

	chunks, err := s.chunkRepo.MatchChunks(ctx, ownerID, embedding, s.threshold, s.limit)
	if err == nil {
		return &RetrievalResult{Chunks: chunks}, nil
	}

	log.Printf("similarity search failed, falling back to recent chunks: %v", err)
	telemetry.CaptureError(ctx, err)

	recent, fallbackErr := s.chunkRepo.RecentChunks(ctx, ownerID, s.limit)
	if fallbackErr != nil {
		span.SetError(fallbackErr)
		return nil, fallbackErr
	}

	return &RetrievalResult{Chunks: recent, Degraded: true}, nil
}
