package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/api/middleware"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
)

type ChatService interface {
	Send(ctx context.Context, ownerID, conversationID, question string) (*service.ChatResult, error)
}

type ChatHandler struct {
	svc ChatService
}

func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type SourceResponse struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Page         int     `json:"page"`
	Excerpt      string  `json:"excerpt"`
	Similarity   float64 `json:"similarity"`
}

type MessageResponse struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Sources        []SourceResponse `json:"sources,omitempty"`
	ErrorTag       string           `json:"error_tag,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

type ChatResponse struct {
	ConversationID string           `json:"conversation_id"`
	Message        *MessageResponse `json:"message"`
	Provider       string           `json:"provider,omitempty"`
	Degraded       bool             `json:"degraded,omitempty"`
}

func messageToResponse(m *domain.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           string(m.Role),
		Content:        m.Content,
		ErrorTag:       m.ErrorTag,
		CreatedAt:      m.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	for _, s := range m.Sources {
		resp.Sources = append(resp.Sources, SourceResponse{
			DocumentID:   s.DocumentID,
			DocumentName: s.DocumentName,
			Page:         s.Page,
			Excerpt:      s.Excerpt,
			Similarity:   s.Similarity,
		})
	}
	return resp
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.svc.Send(r.Context(), userID, req.ConversationID, req.Message)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ChatResponse{
		ConversationID: result.ConversationID,
		Message:        messageToResponse(result.Message),
		Provider:       result.Provider,
		Degraded:       result.Degraded,
	})
}
