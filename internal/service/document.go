package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/pagination"
)

type StorageClientInterface interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error)
	DownloadObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (*ObjectMetadata, error)
}

type ObjectMetadata struct {
	ContentLength int64
	ContentType   string
	ETag          string
}

type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)
	CompleteUpload(ctx context.Context, id string, sizeBytes int64, mimeType string) error
	Delete(ctx context.Context, id string) error
}

type IngestJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.IngestJob) error
}

// DocumentPageResult is one page of a document listing.
type DocumentPageResult struct {
	Items   []*domain.Document
	Cursor  string
	HasMore bool
}

// DocumentService manages the upload lifecycle of documents: presigned
// upload, upload completion with ingest job enqueue, listing, and deletion.
type DocumentService struct {
	docRepo       DocumentRepositoryInterface
	storageClient StorageClientInterface
	jobRepo       IngestJobRepositoryInterface
	uuidGen       UUIDGenerator
	txRunner      TxRunner
}

func NewDocumentService(
	docRepo DocumentRepositoryInterface,
	storageClient StorageClientInterface,
	jobRepo IngestJobRepositoryInterface,
) *DocumentService {
	return &DocumentService{
		docRepo:       docRepo,
		storageClient: storageClient,
		jobRepo:       jobRepo,
		uuidGen:       &DefaultUUIDGenerator{},
	}
}

func NewDocumentServiceWithTx(
	docRepo DocumentRepositoryInterface,
	storageClient StorageClientInterface,
	jobRepo IngestJobRepositoryInterface,
	txRunner TxRunner,
) *DocumentService {
	svc := NewDocumentService(docRepo, storageClient, jobRepo)
	svc.txRunner = txRunner
	return svc
}

type InitUploadInput struct {
	OwnerID     string
	Filename    string
	ContentType string
}

type InitUploadResult struct {
	DocumentID string
	StorageKey string
	UploadURL  string
}

// InitUpload creates a document record in the uploading state and returns a
// presigned URL the caller uploads the file to.
func (s *DocumentService) InitUpload(ctx context.Context, input InitUploadInput) (*InitUploadResult, error) {
	if input.Filename == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "filename is required")
	}

	documentID := s.uuidGen.NewString()
	storageKey := buildStorageKey(input.OwnerID, documentID, input.Filename)

	uploadURL, err := s.storageClient.GenerateUploadURL(ctx, storageKey, input.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload URL: %w", err)
	}

	doc := domain.NewDocument(documentID, input.OwnerID, input.Filename, input.ContentType, storageKey, time.Now().UTC())
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	return &InitUploadResult{
		DocumentID: documentID,
		StorageKey: storageKey,
		UploadURL:  uploadURL,
	}, nil
}

type CompleteUploadInput struct {
	DocumentID string
	OwnerID    string
}

// CompleteUpload verifies the uploaded object exists, records its size and
// content type, and enqueues an ingest job. The document stays in the
// uploading state until the ingestion worker picks the job up.
func (s *DocumentService) CompleteUpload(ctx context.Context, input CompleteUploadInput) (*domain.Document, error) {
	doc, err := s.getOwned(ctx, input.OwnerID, input.DocumentID)
	if err != nil {
		return nil, err
	}

	meta, err := s.storageClient.HeadObject(ctx, doc.StorageKey)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "uploaded file not found in storage", err)
	}

	job := &domain.IngestJob{
		ID:         s.uuidGen.NewString(),
		DocumentID: doc.ID,
		Status:     domain.IngestJobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if s.txRunner != nil {
		err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
			if err := repos.Documents().CompleteUpload(ctx, doc.ID, meta.ContentLength, meta.ContentType); err != nil {
				return fmt.Errorf("failed to record upload: %w", err)
			}
			if err := repos.IngestJobs().Create(ctx, job); err != nil {
				return fmt.Errorf("failed to create ingest job: %w", err)
			}
			return nil
		})
	} else {
		if err = s.docRepo.CompleteUpload(ctx, doc.ID, meta.ContentLength, meta.ContentType); err == nil {
			err = s.jobRepo.Create(ctx, job)
		}
	}
	if err != nil {
		return nil, err
	}

	doc.SizeBytes = meta.ContentLength
	if meta.ContentType != "" {
		doc.MimeType = meta.ContentType
	}
	return doc, nil
}

// Process re-enqueues a document for ingestion. Only documents in a
// terminal state can be re-processed; an in-flight document cannot be
// queued twice.
func (s *DocumentService) Process(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	doc, err := s.getOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}

	switch doc.Status {
	case domain.DocumentStatusUploading:
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "upload has not been completed")
	case domain.DocumentStatusProcessing:
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "document is already processing")
	}

	job := &domain.IngestJob{
		ID:         s.uuidGen.NewString(),
		DocumentID: doc.ID,
		Status:     domain.IngestJobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create ingest job: %w", err)
	}

	return doc, nil
}

// Get returns one of the owner's documents.
func (s *DocumentService) Get(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	return s.getOwned(ctx, ownerID, documentID)
}

// List returns a page of the owner's documents, newest first.
func (s *DocumentService) List(ctx context.Context, ownerID, cursor string, limit int) (*DocumentPageResult, error) {
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return s.docRepo.ListByOwnerWithCursor(ctx, ownerID, decoded, limit)
}

// Delete removes a document, its stored file, and (by cascade) its chunks.
func (s *DocumentService) Delete(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.getOwned(ctx, ownerID, documentID)
	if err != nil {
		return err
	}

	if err := s.storageClient.DeleteObject(ctx, doc.StorageKey); err != nil {
		return fmt.Errorf("failed to delete from storage: %w", err)
	}

	if err := s.docRepo.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	return nil
}

func (s *DocumentService) getOwned(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		// Report not-found rather than leaking another user's document.
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

func buildStorageKey(ownerID, documentID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", ownerID, documentID, filename)
}
