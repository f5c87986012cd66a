package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/extract"
	"github.com/cloo-solutions/docuchat/internal/telemetry"
)

const (
	// minExtractedLength is the smallest extraction considered readable.
	// Anything shorter is treated as an image-based source.
	minExtractedLength = 10

	// embedBatchSize bounds concurrent outstanding embedding calls.
	embedBatchSize = 5
	// embedBatchPause is the pause between batches, to respect rate limits.
	embedBatchPause = 500 * time.Millisecond
)

// IngestionDocumentRepository is the document persistence the orchestrator needs.
type IngestionDocumentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	SetStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	MarkCompleted(ctx context.Context, id string, totalPages, chunkCount int) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// IngestionChunkRepository persists embedded chunks.
type IngestionChunkRepository interface {
	DeleteByDocument(ctx context.Context, documentID string) error
	Insert(ctx context.Context, chunk *domain.Chunk) error
}

// StorageDownloader fetches uploaded document bytes.
type StorageDownloader interface {
	DownloadObject(ctx context.Context, key string) ([]byte, error)
}

// TextExtractor extracts plain text and a page count from document bytes.
type TextExtractor interface {
	Extract(data []byte) (*extract.Result, error)
}

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TokenCounterInterface counts tokens in a text span.
type TokenCounterInterface interface {
	Count(text string) int
}

// ChunkResult is the per-chunk outcome of an embedding batch. Failed chunks
// are skipped, not fatal; the orchestrator decides the overall verdict.
type ChunkResult struct {
	Index     int
	Chunk     TextChunk
	Embedding []float32
	Err       error
}

// ProcessResult summarizes one document ingestion run.
type ProcessResult struct {
	DocumentID      string
	ChunksProcessed int
	ChunksFailed    int
	TotalPages      int
}

// IngestionService drives the pipeline for one document: download, extract,
// chunk, embed in bounded batches, persist, and finalize the document's
// status. Fatal errors mark the document failed; per-chunk embedding errors
// are contained.
type IngestionService struct {
	docRepo    IngestionDocumentRepository
	chunkRepo  IngestionChunkRepository
	storage    StorageDownloader
	extractor  TextExtractor
	embedder   Embedder
	tokens     TokenCounterInterface
	uuidGen    UUIDGenerator
	chunkCfg   ChunkConfig
	batchSize  int
	batchPause time.Duration
}

func NewIngestionService(
	docRepo IngestionDocumentRepository,
	chunkRepo IngestionChunkRepository,
	storage StorageDownloader,
	extractor TextExtractor,
	embedder Embedder,
	tokens TokenCounterInterface,
) *IngestionService {
	return &IngestionService{
		docRepo:    docRepo,
		chunkRepo:  chunkRepo,
		storage:    storage,
		extractor:  extractor,
		embedder:   embedder,
		tokens:     tokens,
		uuidGen:    &DefaultUUIDGenerator{},
		chunkCfg:   DefaultChunkConfig(),
		batchSize:  embedBatchSize,
		batchPause: embedBatchPause,
	}
}

// SetChunkConfig overrides the default chunking parameters.
func (s *IngestionService) SetChunkConfig(cfg ChunkConfig) {
	s.chunkCfg = cfg
}

// ProcessDocument runs the full ingestion pipeline for one document. The
// document's status is always updated, including on failure.
func (s *IngestionService) ProcessDocument(ctx context.Context, documentID string) (*ProcessResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.ProcessDocument", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "ingest",
	})
	defer span.End()

	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	switch {
	case doc.Status.IsTerminal():
		// Terminal statuses re-enter the pipeline through an explicit re-process.
		log.Printf("re-processing document %s from terminal status %s", doc.ID, doc.Status)
	case !doc.Status.CanTransitionTo(domain.DocumentStatusProcessing):
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "document is already processing")
	}

	if err := s.docRepo.SetStatus(ctx, doc.ID, domain.DocumentStatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to mark document processing: %w", err)
	}

	result, err := s.run(ctx, doc)
	if err != nil {
		span.SetError(err)
		if markErr := s.docRepo.MarkFailed(ctx, doc.ID, err.Error()); markErr != nil {
			log.Printf("failed to mark document %s failed: %v", doc.ID, markErr)
		}
		return nil, err
	}

	if err := s.docRepo.MarkCompleted(ctx, doc.ID, result.TotalPages, result.ChunksProcessed); err != nil {
		return nil, fmt.Errorf("failed to mark document completed: %w", err)
	}

	log.Printf("document %s ingested: %d chunks (%d failed), %d pages",
		doc.ID, result.ChunksProcessed, result.ChunksFailed, result.TotalPages)
	return result, nil
}

func (s *IngestionService) run(ctx context.Context, doc *domain.Document) (*ProcessResult, error) {
	data, err := s.storage.DownloadObject(ctx, doc.StorageKey)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to download document", err)
	}

	extracted, err := s.extractor.Extract(data)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "failed to extract text", err)
	}
	if len(strings.TrimSpace(extracted.Text)) < minExtractedLength {
		return nil, domain.ErrEmptyExtraction
	}

	chunks := ChunkText(extracted.Text, s.chunkCfg)
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyExtraction
	}

	// Re-processing replaces any chunks from a previous run.
	if err := s.chunkRepo.DeleteByDocument(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("failed to clear existing chunks: %w", err)
	}

	normalizedLen := len([]rune(NormalizeText(extracted.Text)))
	pages := newPageLocator(normalizedLen, extracted.TotalPages)

	persisted := 0
	failed := 0
	nextIndex := 0
	createdAt := time.Now().UTC()

	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		results := s.embedBatch(ctx, chunks[start:end], start)

		// Persist the batch's successes sequentially, keeping chunk
		// ordinals contiguous even when some embeddings failed.
		for _, r := range results {
			if r.Err != nil {
				failed++
				log.Printf("skipping chunk %d of document %s: %v", r.Index, doc.ID, r.Err)
				continue
			}

			chunk := &domain.Chunk{
				ID:         s.uuidGen.NewString(),
				DocumentID: doc.ID,
				OwnerID:    doc.OwnerID,
				ChunkIndex: nextIndex,
				StartIndex: r.Chunk.StartIndex,
				EndIndex:   r.Chunk.EndIndex,
				Content:    r.Chunk.Content,
				Page:       pages.pageFor(r.Chunk.StartIndex),
				TokenCount: s.countTokens(r.Chunk.Content),
				Embedding:  r.Embedding,
				CreatedAt:  createdAt,
			}
			if err := s.chunkRepo.Insert(ctx, chunk); err != nil {
				return nil, fmt.Errorf("failed to persist chunk %d: %w", r.Index, err)
			}
			nextIndex++
			persisted++
		}

		if end < len(chunks) && s.batchPause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.batchPause):
			}
		}
	}

	if persisted == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeInternalError, "all chunk embeddings failed")
	}

	return &ProcessResult{
		DocumentID:      doc.ID,
		ChunksProcessed: persisted,
		ChunksFailed:    failed,
		TotalPages:      extracted.TotalPages,
	}, nil
}

// embedBatch runs one batch of embedding calls concurrently and waits for
// all of them. Results come back in the batch's original order.
func (s *IngestionService) embedBatch(ctx context.Context, batch []TextChunk, offset int) []ChunkResult {
	results := make([]ChunkResult, len(batch))

	var wg sync.WaitGroup
	for i, chunk := range batch {
		wg.Add(1)
		go func(i int, chunk TextChunk) {
			defer wg.Done()
			embedding, err := s.embedder.Embed(ctx, chunk.Content)
			results[i] = ChunkResult{
				Index:     offset + i,
				Chunk:     chunk,
				Embedding: embedding,
				Err:       err,
			}
		}(i, chunk)
	}
	wg.Wait()

	return results
}

func (s *IngestionService) countTokens(text string) int {
	if s.tokens == nil {
		return 0
	}
	return s.tokens.Count(text)
}

// pageLocator derives a page number from a character offset. Extraction
// does not preserve per-page offsets through normalization, so pages are
// apportioned evenly across the normalized text.
type pageLocator struct {
	charsPerPage int
	totalPages   int
}

func newPageLocator(textLen, totalPages int) pageLocator {
	if totalPages < 1 {
		totalPages = 1
	}
	charsPerPage := (textLen + totalPages - 1) / totalPages
	if charsPerPage < 1 {
		charsPerPage = 1
	}
	return pageLocator{charsPerPage: charsPerPage, totalPages: totalPages}
}

func (p pageLocator) pageFor(offset int) int {
	page := offset/p.charsPerPage + 1
	if page > p.totalPages {
		page = p.totalPages
	}
	if page < 1 {
		page = 1
	}
	return page
}
