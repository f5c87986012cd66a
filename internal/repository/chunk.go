package repository

import (
	"context"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence and vector search of document chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) Insert(ctx context.Context, c *domain.Chunk) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chunks (id, document_id, owner_id, chunk_index, start_index, end_index, content, page, token_count, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.DocumentID, c.OwnerID, c.ChunkIndex, c.StartIndex, c.EndIndex, c.Content, c.Page, c.TokenCount, pgvector.NewVector(c.Embedding), c.CreatedAt,
	)
	return err
}

func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	return err
}

func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`,
		documentID,
	).Scan(&count)
	return count, err
}

// MatchChunks runs cosine similarity search over the owner's chunks from
// completed documents. Similarity is 1 minus the cosine distance; only
// rows above the threshold come back, most similar first.
func (r *ChunkRepository) MatchChunks(ctx context.Context, ownerID string, embedding []float32, threshold float64, limit int) ([]service.RetrievedChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.id, c.document_id, d.filename, c.page, c.content, 1 - (c.embedding <=> $1) AS similarity
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.owner_id = $2
		   AND d.status = $3
		   AND c.embedding IS NOT NULL
		   AND 1 - (c.embedding <=> $1) > $4
		 ORDER BY c.embedding <=> $1
		 LIMIT $5`,
		pgvector.NewVector(embedding), ownerID, domain.DocumentStatusCompleted, threshold, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRetrievedChunks(rows)
}

// RecentChunks returns the owner's newest chunks from completed documents,
// without similarity scoring. Used as a fallback when vector search fails.
func (r *ChunkRepository) RecentChunks(ctx context.Context, ownerID string, limit int) ([]service.RetrievedChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.id, c.document_id, d.filename, c.page, c.content, 0 AS similarity
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.owner_id = $1 AND d.status = $2
		 ORDER BY c.created_at DESC, c.chunk_index ASC
		 LIMIT $3`,
		ownerID, domain.DocumentStatusCompleted, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRetrievedChunks(rows)
}

func scanRetrievedChunks(rows pgx.Rows) ([]service.RetrievedChunk, error) {
	var results []service.RetrievedChunk
	for rows.Next() {
		var c service.RetrievedChunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.DocumentName, &c.Page, &c.Content, &c.Similarity); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
