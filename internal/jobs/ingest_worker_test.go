package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
)

type MockIngestJobRepository struct {
	mock.Mock
}

func (m *MockIngestJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.IngestJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.IngestJob), args.Error(1)
}

func (m *MockIngestJobRepository) UpdateStatus(ctx context.Context, id string, status domain.IngestJobStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockIngestJobRepository) Requeue(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

type MockIngestor struct {
	mock.Mock
}

func (m *MockIngestor) ProcessDocument(ctx context.Context, documentID string) (*service.ProcessResult, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProcessResult), args.Error(1)
}

func pendingJob(retries int) *domain.IngestJob {
	return &domain.IngestJob{
		ID:         "job-1",
		DocumentID: "doc-1",
		Status:     domain.IngestJobStatusProcessing,
		Retries:    retries,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestIngestWorker_ProcessJobs_Success(t *testing.T) {
	repo := new(MockIngestJobRepository)
	ingestor := new(MockIngestor)

	repo.On("ClaimPending", mock.Anything, 10).Return([]*domain.IngestJob{pendingJob(0)}, nil)
	ingestor.On("ProcessDocument", mock.Anything, "doc-1").
		Return(&service.ProcessResult{DocumentID: "doc-1", ChunksProcessed: 8, TotalPages: 3}, nil)
	repo.On("UpdateStatus", mock.Anything, "job-1", domain.IngestJobStatusCompleted, "").Return(nil)

	w := NewIngestWorker(repo, ingestor)
	err := w.ProcessJobs(context.Background())

	require.NoError(t, err)
	repo.AssertExpectations(t)
	ingestor.AssertExpectations(t)
}

func TestIngestWorker_ProcessJobs_NothingClaimed(t *testing.T) {
	repo := new(MockIngestJobRepository)
	ingestor := new(MockIngestor)
	repo.On("ClaimPending", mock.Anything, 10).Return([]*domain.IngestJob{}, nil)

	w := NewIngestWorker(repo, ingestor)
	err := w.ProcessJobs(context.Background())

	require.NoError(t, err)
	ingestor.AssertNotCalled(t, "ProcessDocument", mock.Anything, mock.Anything)
}

func TestIngestWorker_ProcessJobs_ClaimFailure(t *testing.T) {
	repo := new(MockIngestJobRepository)
	repo.On("ClaimPending", mock.Anything, 10).Return(nil, errors.New("database down"))

	w := NewIngestWorker(repo, new(MockIngestor))
	err := w.ProcessJobs(context.Background())

	assert.ErrorContains(t, err, "failed to claim pending jobs")
}

func TestIngestWorker_FailedJobRequeued(t *testing.T) {
	repo := new(MockIngestJobRepository)
	ingestor := new(MockIngestor)

	repo.On("ClaimPending", mock.Anything, 10).Return([]*domain.IngestJob{pendingJob(0)}, nil)
	ingestor.On("ProcessDocument", mock.Anything, "doc-1").Return(nil, errors.New("extraction failed"))
	repo.On("Requeue", mock.Anything, "job-1", mock.AnythingOfType("string")).Return(nil)

	w := NewIngestWorker(repo, ingestor)
	err := w.ProcessJobs(context.Background())

	require.NoError(t, err)
	repo.AssertCalled(t, "Requeue", mock.Anything, "job-1", "retry 1: extraction failed")
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestWorker_ExhaustedJobMarkedFailed(t *testing.T) {
	repo := new(MockIngestJobRepository)
	ingestor := new(MockIngestor)

	repo.On("ClaimPending", mock.Anything, 10).Return([]*domain.IngestJob{pendingJob(MaxRetries - 1)}, nil)
	ingestor.On("ProcessDocument", mock.Anything, "doc-1").Return(nil, errors.New("extraction failed"))
	repo.On("UpdateStatus", mock.Anything, "job-1", domain.IngestJobStatusFailed,
		"max retries exceeded: extraction failed").Return(nil)

	w := NewIngestWorker(repo, ingestor)
	err := w.ProcessJobs(context.Background())

	require.NoError(t, err)
	repo.AssertNotCalled(t, "Requeue", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestIngestWorker_OneBadJobDoesNotBlockOthers(t *testing.T) {
	jobA := pendingJob(0)
	jobB := pendingJob(0)
	jobB.ID = "job-2"
	jobB.DocumentID = "doc-2"

	repo := new(MockIngestJobRepository)
	ingestor := new(MockIngestor)

	repo.On("ClaimPending", mock.Anything, 10).Return([]*domain.IngestJob{jobA, jobB}, nil)
	ingestor.On("ProcessDocument", mock.Anything, "doc-1").Return(nil, errors.New("boom"))
	repo.On("Requeue", mock.Anything, "job-1", mock.AnythingOfType("string")).Return(errors.New("requeue failed"))
	ingestor.On("ProcessDocument", mock.Anything, "doc-2").
		Return(&service.ProcessResult{DocumentID: "doc-2", ChunksProcessed: 2, TotalPages: 1}, nil)
	repo.On("UpdateStatus", mock.Anything, "job-2", domain.IngestJobStatusCompleted, "").Return(nil)

	w := NewIngestWorker(repo, ingestor)
	err := w.ProcessJobs(context.Background())

	require.NoError(t, err)
	ingestor.AssertCalled(t, "ProcessDocument", mock.Anything, "doc-2")
}

type countingProcessor struct {
	runs atomic.Int32
}

func (p *countingProcessor) ProcessJobs(ctx context.Context) error {
	p.runs.Add(1)
	return nil
}

func TestWorker_RunsImmediatelyAndStops(t *testing.T) {
	processor := &countingProcessor{}
	w := NewWorker(processor, time.Hour)

	go w.Start(context.Background())

	require.Eventually(t, func() bool {
		return processor.runs.Load() == 1
	}, time.Second, 5*time.Millisecond, "one drain pass runs before the first tick")

	w.Stop()
	assert.Equal(t, int32(1), processor.runs.Load())
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	processor := &countingProcessor{}
	w := NewWorker(processor, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestWorker_Polls(t *testing.T) {
	processor := &countingProcessor{}
	w := NewWorker(processor, 10*time.Millisecond)

	go w.Start(context.Background())

	require.Eventually(t, func() bool {
		return processor.runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	w.Stop()
}
