package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/extract"
)

type MockIngestionDocumentRepository struct {
	mock.Mock
}

func (m *MockIngestionDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestionDocumentRepository) SetStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockIngestionDocumentRepository) MarkCompleted(ctx context.Context, id string, totalPages, chunkCount int) error {
	args := m.Called(ctx, id, totalPages, chunkCount)
	return args.Error(0)
}

func (m *MockIngestionDocumentRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

// recordingChunkRepository collects inserted chunks in order.
type recordingChunkRepository struct {
	mu        sync.Mutex
	deleted   []string
	inserted  []*domain.Chunk
	insertErr error
}

func (r *recordingChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, documentID)
	return nil
}

func (r *recordingChunkRepository) Insert(ctx context.Context, chunk *domain.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, chunk)
	return nil
}

type stubStorage struct {
	data []byte
	err  error
}

func (s *stubStorage) DownloadObject(ctx context.Context, key string) ([]byte, error) {
	return s.data, s.err
}

type stubExtractor struct {
	result *extract.Result
	err    error
}

func (s *stubExtractor) Extract(data []byte) (*extract.Result, error) {
	return s.result, s.err
}

// countingEmbedder fails on the call ordinals listed in failOn.
type countingEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if e.failOn[call] {
		return nil, errors.New("embedding unavailable")
	}
	return make([]float32, 768), nil
}

type fixedTokenCounter struct{ n int }

func (f fixedTokenCounter) Count(text string) int { return f.n }

func ingestionFixture(docRepo IngestionDocumentRepository, chunkRepo IngestionChunkRepository, storage StorageDownloader, extractor TextExtractor, embedder Embedder) *IngestionService {
	svc := NewIngestionService(docRepo, chunkRepo, storage, extractor, embedder, fixedTokenCounter{n: 7})
	svc.batchPause = 0
	return svc
}

func testDocument() *domain.Document {
	return domain.NewDocument("doc-1", "user-1", "report.pdf", "application/pdf", "user-1/doc-1/report.pdf", time.Now().UTC())
}

func longText() string {
	return strings.Repeat("Each sentence in this synthetic report holds enough words to matter. ", 120)
}

func TestIngestionService_ProcessDocument_RejectsInFlightDocument(t *testing.T) {
	doc := testDocument()
	doc.Status = domain.DocumentStatusProcessing

	docRepo := new(MockIngestionDocumentRepository)
	docRepo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)

	svc := ingestionFixture(docRepo, &recordingChunkRepository{}, &stubStorage{}, &stubExtractor{}, &countingEmbedder{})
	_, err := svc.ProcessDocument(context.Background(), "doc-1")

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCodeInvalidOperation, derr.Code)
	docRepo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
	docRepo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestionService_ProcessDocument_Success(t *testing.T) {
	doc := testDocument()

	docRepo := new(MockIngestionDocumentRepository)
	docRepo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	docRepo.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusProcessing).Return(nil)
	docRepo.On("MarkCompleted", mock.Anything, "doc-1", 3, mock.AnythingOfType("int")).Return(nil)

	chunkRepo := &recordingChunkRepository{}
	storage := &stubStorage{data: []byte("%PDF-1.4")}
	extractor := &stubExtractor{result: &extract.Result{Text: longText(), TotalPages: 3}}
	embedder := &countingEmbedder{}

	svc := ingestionFixture(docRepo, chunkRepo, storage, extractor, embedder)
	result, err := svc.ProcessDocument(context.Background(), "doc-1")

	require.NoError(t, err)
	assert.Equal(t, "doc-1", result.DocumentID)
	assert.Equal(t, 3, result.TotalPages)
	assert.Zero(t, result.ChunksFailed)
	assert.Equal(t, len(chunkRepo.inserted), result.ChunksProcessed)
	require.NotEmpty(t, chunkRepo.inserted)

	assert.Equal(t, []string{"doc-1"}, chunkRepo.deleted, "previous chunks cleared before inserting")
	for i, c := range chunkRepo.inserted {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, "user-1", c.OwnerID)
		assert.Len(t, c.Embedding, 768)
		assert.Equal(t, 7, c.TokenCount)
		assert.GreaterOrEqual(t, c.Page, 1)
		assert.LessOrEqual(t, c.Page, 3)
	}
	docRepo.AssertExpectations(t)
}

func TestIngestionService_ProcessDocument_DownloadFailureMarksFailed(t *testing.T) {
	doc := testDocument()

	docRepo := new(MockIngestionDocumentRepository)
	docRepo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	docRepo.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusProcessing).Return(nil)
	docRepo.On("MarkFailed", mock.Anything, "doc-1", mock.AnythingOfType("string")).Return(nil)

	svc := ingestionFixture(docRepo, &recordingChunkRepository{}, &stubStorage{err: errors.New("object missing")}, &stubExtractor{}, &countingEmbedder{})
	_, err := svc.ProcessDocument(context.Background(), "doc-1")

	require.Error(t, err)
	docRepo.AssertCalled(t, "MarkFailed", mock.Anything, "doc-1", mock.AnythingOfType("string"))
	docRepo.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestionService_ProcessDocument_EmptyExtraction(t *testing.T) {
	doc := testDocument()

	docRepo := new(MockIngestionDocumentRepository)
	docRepo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	docRepo.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusProcessing).Return(nil)
	docRepo.On("MarkFailed", mock.Anything, "doc-1", mock.AnythingOfType("string")).Return(nil)

	extractor := &stubExtractor{result: &extract.Result{Text: "   \n ok \n ", TotalPages: 2}}
	svc := ingestionFixture(docRepo, &recordingChunkRepository{}, &stubStorage{data: []byte("x")}, extractor, &countingEmbedder{})

	_, err := svc.ProcessDocument(context.Background(), "doc-1")

	assert.ErrorIs(t, err, domain.ErrEmptyExtraction)
	docRepo.AssertCalled(t, "MarkFailed", mock.Anything, "doc-1", mock.AnythingOfType("string"))
}

func TestIngestionService_ProcessDocument_PartialEmbedFailure(t *testing.T) {
	doc := testDocument()

	docRepo := new(MockIngestionDocumentRepository)
	docRepo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	docRepo.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusProcessing).Return(nil)
	docRepo.On("MarkCompleted", mock.Anything, "doc-1", 3, mock.AnythingOfType("int")).Return(nil)

	chunkRepo := &recordingChunkRepository{}
	extractor := &stubExtractor{result: &extract.Result{Text: longText(), TotalPages: 3}}
	embedder := &countingEmbedder{failOn: map[int]bool{2: true}}

	svc := ingestionFixture(docRepo, chunkRepo, &stubStorage{data: []byte("x")}, extractor, embedder)
	result, err := svc.ProcessDocument(context.Background(), "doc-1")

	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksFailed)
	assert.Equal(t, len(chunkRepo.inserted), result.ChunksProcessed)

	// Ordinals stay contiguous despite the skipped chunk.
	for i, c := range chunkRepo.inserted {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestIngestionService_ProcessDocument_AllEmbedsFail(t *testing.T) {
	doc := testDocument()

	docRepo := new(MockIngestionDocumentRepository)
	docRepo.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	docRepo.On("SetStatus", mock.Anything, "doc-1", domain.DocumentStatusProcessing).Return(nil)
	docRepo.On("MarkFailed", mock.Anything, "doc-1", mock.AnythingOfType("string")).Return(nil)

	failAll := &countingEmbedder{failOn: map[int]bool{}}
	for i := 1; i <= 100; i++ {
		failAll.failOn[i] = true
	}
	extractor := &stubExtractor{result: &extract.Result{Text: longText(), TotalPages: 3}}

	svc := ingestionFixture(docRepo, &recordingChunkRepository{}, &stubStorage{data: []byte("x")}, extractor, failAll)
	_, err := svc.ProcessDocument(context.Background(), "doc-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all chunk embeddings failed")
}

func TestIngestionService_ProcessDocument_NotFound(t *testing.T) {
	docRepo := new(MockIngestionDocumentRepository)
	docRepo.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

	svc := ingestionFixture(docRepo, &recordingChunkRepository{}, &stubStorage{}, &stubExtractor{}, &countingEmbedder{})
	_, err := svc.ProcessDocument(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	docRepo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestPageLocator(t *testing.T) {
	p := newPageLocator(1000, 4)

	assert.Equal(t, 1, p.pageFor(0))
	assert.Equal(t, 1, p.pageFor(249))
	assert.Equal(t, 2, p.pageFor(250))
	assert.Equal(t, 4, p.pageFor(999))
	assert.Equal(t, 4, p.pageFor(5000), "offsets past the end clamp to the last page")
}

func TestPageLocator_DegenerateInputs(t *testing.T) {
	p := newPageLocator(0, 0)
	assert.Equal(t, 1, p.pageFor(0))

	p = newPageLocator(10, 1)
	assert.Equal(t, 1, p.pageFor(9))
}
