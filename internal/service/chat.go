package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/llm"
	"github.com/cloo-solutions/docuchat/internal/pagination"
	"github.com/cloo-solutions/docuchat/internal/telemetry"
)

const (
	// noContextAnswer is returned verbatim when retrieval finds nothing
	// relevant, without calling the generation provider.
	noContextAnswer = "I couldn't find anything in your documents related to that question. Try rephrasing, or upload a document that covers the topic."

	// providerApology is returned when every generation attempt failed.
	providerApology = "I'm having trouble generating a response right now. Please try again in a moment."

	// excerptMaxRunes bounds the excerpt stored with each source citation.
	excerptMaxRunes = 200
)

// Error tags recorded on degraded assistant messages.
const (
	ErrorTagNoContext     = "no_context"
	ErrorTagOverloaded    = "provider_overloaded"
	ErrorTagRateLimited   = "provider_rate_limited"
	ErrorTagProviderError = "provider_error"
)

// ConversationRepositoryInterface is the conversation persistence chat needs.
type ConversationRepositoryInterface interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	ListByOwnerWithCursor(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (*ConversationPageResult, error)
	Touch(ctx context.Context, id string, updatedAt time.Time) error
}

// MessageRepositoryInterface persists and lists conversation messages.
type MessageRepositoryInterface interface {
	Create(ctx context.Context, message *domain.Message) error
	ListByConversation(ctx context.Context, conversationID string, cursor *pagination.Cursor, limit int) (*MessagePageResult, error)
}

// Generator produces an answer for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*llm.GenerationResult, error)
}

// Retriever finds context chunks for a query embedding.
type Retriever interface {
	Retrieve(ctx context.Context, ownerID string, embedding []float32) (*RetrievalResult, error)
}

// ConversationPageResult is one page of a conversation listing.
type ConversationPageResult struct {
	Items   []*domain.Conversation
	Cursor  string
	HasMore bool
}

// MessagePageResult is one page of a message listing.
type MessagePageResult struct {
	Items   []*domain.Message
	Cursor  string
	HasMore bool
}

// ChatResult is the outcome of one chat turn. Degraded is set when the
// assistant message was produced without a successful generation call, or
// when its context came from the unranked recency fallback rather than
// similarity search.
type ChatResult struct {
	ConversationID string
	Message        *domain.Message
	Provider       string
	Degraded       bool
}

// ChatService orchestrates one question-answer turn: resolve the
// conversation, persist the user message, embed the question, retrieve
// context, generate an answer, and persist the assistant message. Every
// turn produces a persisted assistant message, including degraded ones.
type ChatService struct {
	convRepo  ConversationRepositoryInterface
	msgRepo   MessageRepositoryInterface
	embedder  Embedder
	retriever Retriever
	generator Generator
	uuidGen   UUIDGenerator
}

func NewChatService(
	convRepo ConversationRepositoryInterface,
	msgRepo MessageRepositoryInterface,
	embedder Embedder,
	retriever Retriever,
	generator Generator,
) *ChatService {
	return &ChatService{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		uuidGen:   &DefaultUUIDGenerator{},
	}
}

// Send handles one chat turn. An empty conversationID starts a new
// conversation titled after the question.
func (s *ChatService) Send(ctx context.Context, ownerID, conversationID, question string) (*ChatResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.Send", telemetry.SpanAttributes{
		OwnerID:        ownerID,
		ConversationID: conversationID,
		Operation:      "chat",
	})
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "message is required")
	}

	conv, err := s.resolveConversation(ctx, ownerID, conversationID, question)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	userMsg := &domain.Message{
		ID:             s.uuidGen.NewString(),
		ConversationID: conv.ID,
		Role:           domain.MessageRoleUser,
		Content:        question,
		CreatedAt:      now,
	}
	if err := s.msgRepo.Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	answer := s.answer(ctx, ownerID, question)

	assistantMsg := &domain.Message{
		ID:             s.uuidGen.NewString(),
		ConversationID: conv.ID,
		Role:           domain.MessageRoleAssistant,
		Content:        answer.content,
		Sources:        answer.sources,
		ErrorTag:       answer.errorTag,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.msgRepo.Create(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	if err := s.convRepo.Touch(ctx, conv.ID, assistantMsg.CreatedAt); err != nil {
		log.Printf("failed to touch conversation %s: %v", conv.ID, err)
	}

	return &ChatResult{
		ConversationID: conv.ID,
		Message:        assistantMsg,
		Provider:       answer.provider,
		Degraded:       answer.degraded || answer.errorTag != "",
	}, nil
}

type chatAnswer struct {
	content  string
	sources  []domain.Source
	provider string
	errorTag string
	degraded bool
}

// answer produces the assistant response for a question. It never returns
// an error: every failure mode degrades into an apologetic answer with a
// machine-readable tag, so the turn is always persisted.
func (s *ChatService) answer(ctx context.Context, ownerID, question string) chatAnswer {
	embedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		log.Printf("query embedding failed: %v", err)
		telemetry.CaptureError(ctx, err)
		return chatAnswer{content: providerApology, errorTag: tagForError(err)}
	}

	retrieved, err := s.retriever.Retrieve(ctx, ownerID, embedding)
	if err != nil {
		log.Printf("retrieval failed: %v", err)
		telemetry.CaptureError(ctx, err)
		return chatAnswer{content: providerApology, errorTag: ErrorTagProviderError}
	}

	if len(retrieved.Chunks) == 0 {
		return chatAnswer{content: noContextAnswer, errorTag: ErrorTagNoContext}
	}

	prompt := buildPrompt(question, retrieved.Chunks)

	result, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		log.Printf("generation failed: %v", err)
		telemetry.CaptureError(ctx, err)
		return chatAnswer{content: providerApology, errorTag: tagForError(err)}
	}

	return chatAnswer{
		content:  result.Text,
		sources:  sourcesFromChunks(retrieved.Chunks),
		provider: result.Provider,
		degraded: retrieved.Degraded,
	}
}

func (s *ChatService) resolveConversation(ctx context.Context, ownerID, conversationID, question string) (*domain.Conversation, error) {
	if conversationID != "" {
		conv, err := s.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.OwnerID != ownerID {
			return nil, domain.ErrConversationNotFound
		}
		return conv, nil
	}

	conv := domain.NewConversation(
		s.uuidGen.NewString(),
		ownerID,
		domain.TitleFromMessage(question),
		time.Now().UTC(),
	)
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the owner's conversations, most recently
// updated first.
func (s *ChatService) ListConversations(ctx context.Context, ownerID, cursor string, limit int) (*ConversationPageResult, error) {
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return s.convRepo.ListByOwnerWithCursor(ctx, ownerID, decoded, limit)
}

// ListMessages returns a conversation's messages in chronological order.
func (s *ChatService) ListMessages(ctx context.Context, ownerID, conversationID, cursor string, limit int) (*MessagePageResult, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != ownerID {
		return nil, domain.ErrConversationNotFound
	}

	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return s.msgRepo.ListByConversation(ctx, conversationID, decoded, limit)
}

// buildPrompt assembles the generation prompt: numbered context blocks
// followed by the question. The numbering matches the order the sources
// are attached to the assistant message.
func buildPrompt(question string, chunks []RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("You are an assistant that answers questions using only the provided document excerpts. ")
	b.WriteString("If the excerpts do not contain the answer, say so. Cite excerpts by their number.\n\n")
	b.WriteString("Excerpts:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] %s (page %d)\n%s\n\n", i+1, chunk.DocumentName, chunk.Page, chunk.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

func sourcesFromChunks(chunks []RetrievedChunk) []domain.Source {
	sources := make([]domain.Source, 0, len(chunks))
	for _, chunk := range chunks {
		sources = append(sources, domain.Source{
			DocumentID:   chunk.DocumentID,
			DocumentName: chunk.DocumentName,
			Page:         chunk.Page,
			Excerpt:      truncateRunes(chunk.Content, excerptMaxRunes),
			Similarity:   chunk.Similarity,
		})
	}
	return sources
}

func tagForError(err error) string {
	switch llm.KindOf(err) {
	case llm.ErrorKindOverloaded:
		return ErrorTagOverloaded
	case llm.ErrorKindRateLimited:
		return ErrorTagRateLimited
	default:
		return ErrorTagProviderError
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
