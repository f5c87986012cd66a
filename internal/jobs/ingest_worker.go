package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
)

// MaxRetries is the maximum number of attempts for a failed ingest job.
const MaxRetries = 3

// IngestJobRepository defines the persistence the worker needs.
type IngestJobRepository interface {
	// ClaimPending atomically claims up to limit pending jobs.
	ClaimPending(ctx context.Context, limit int) ([]*domain.IngestJob, error)

	// UpdateStatus updates the status of an ingest job.
	UpdateStatus(ctx context.Context, id string, status domain.IngestJobStatus, errMsg string) error

	// Requeue resets a job to pending with its retry counter bumped.
	Requeue(ctx context.Context, id string, errMsg string) error
}

// Ingestor runs the document ingestion pipeline for one document.
type Ingestor interface {
	ProcessDocument(ctx context.Context, documentID string) (*service.ProcessResult, error)
}

// IngestWorker drains claimed ingest jobs through the ingestion pipeline.
type IngestWorker struct {
	repo     IngestJobRepository
	ingestor Ingestor
	batch    int
}

func NewIngestWorker(repo IngestJobRepository, ingestor Ingestor) *IngestWorker {
	return &IngestWorker{
		repo:     repo,
		ingestor: ingestor,
		batch:    10,
	}
}

// ProcessJobs implements the JobProcessor interface.
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("processing %d pending ingest jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *IngestWorker) processJob(ctx context.Context, job *domain.IngestJob) error {
	log.Printf("processing job %s for document %s", job.ID, job.DocumentID)

	result, err := w.ingestor.ProcessDocument(ctx, job.DocumentID)
	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("job %s completed: %d chunks, %d pages", job.ID, result.ChunksProcessed, result.TotalPages)
	return nil
}

// handleJobFailure requeues the job until it runs out of attempts. The
// document itself is already marked failed by the pipeline; the job status
// only drives retries.
func (w *IngestWorker) handleJobFailure(ctx context.Context, job *domain.IngestJob, jobErr error) error {
	log.Printf("job %s failed: %v", job.ID, jobErr)

	if job.Retries+1 >= MaxRetries {
		log.Printf("job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.Requeue(ctx, job.ID, errMsg); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	return nil
}
