package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/dealroom/internal/domain/conversation/entity"
	"github.com/vadim/dealroom/internal/domain/conversation/policy"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/httpx/auth"
	"github.com/vadim/dealroom/internal/httpx/response"
	"github.com/vadim/dealroom/internal/storage"
)

// ConversationPolicy defines the interface for deal messaging operations
type ConversationPolicy interface {
	ListConversations(ctx context.Context, actor *identity.Identity, in policy.ListConversationsInput) ([]entity.Summary, error)
	GetMessages(ctx context.Context, actor *identity.Identity, in policy.GetMessagesInput) (*entity.Page, error)
	SendMessage(ctx context.Context, actor *identity.Identity, dealID, content string) (*entity.Message, error)
	MarkRead(ctx context.Context, actor *identity.Identity, dealID string, upTo int64) (*policy.MarkReadOutput, error)
	ExportTranscript(ctx context.Context, actor *identity.Identity, dealID string) (*storage.ArchiveOutput, error)
}

// ConversationHandler handles HTTP requests for deal conversations
type ConversationHandler struct {
	policy ConversationPolicy
	logger *slog.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(p ConversationPolicy, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{policy: p, logger: logger}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	// Inbox of the caller
	r.Get("/conversations", h.ListConversations())

	// Messages of one deal
	r.Get("/deals/{dealId}/messages", h.GetMessages())
	r.Post("/deals/{dealId}/messages", h.SendMessage())
	r.Post("/deals/{dealId}/messages/read", h.MarkRead())
	r.Post("/deals/{dealId}/messages/export", h.ExportTranscript())
}

// ListConversations handles GET /conversations
func (h *ConversationHandler) ListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		summaries, err := h.policy.ListConversations(r.Context(), auth.FromContext(r.Context()), policy.ListConversationsInput{
			Search: q.Get("search"),
			Limit:  queryInt(q.Get("limit"), 50),
			Offset: queryInt(q.Get("offset"), 0),
		})
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.OK(w, map[string]any{"conversations": summaries})
	}
}

// GetMessages handles GET /deals/{dealId}/messages
func (h *ConversationHandler) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		order := entity.Order(q.Get("order"))
		if order != "" && order != entity.OrderAsc && order != entity.OrderDesc {
			badRequest(w, "order must be asc or desc")
			return
		}

		page, err := h.policy.GetMessages(r.Context(), auth.FromContext(r.Context()), policy.GetMessagesInput{
			DealID: chi.URLParam(r, "dealId"),
			Cursor: q.Get("cursor"),
			Limit:  queryInt(q.Get("limit"), 0),
			Order:  order,
		})
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.OK(w, page)
	}
}

// SendMessageRequest represents the request body for sending a message
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage handles POST /deals/{dealId}/messages
func (h *ConversationHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		msg, err := h.policy.SendMessage(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "dealId"), req.Content)
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.Created(w, msg)
	}
}

// MarkReadRequest represents the optional body of a read receipt
type MarkReadRequest struct {
	UpTo int64 `json:"up_to"`
}

// MarkRead handles POST /deals/{dealId}/messages/read
func (h *ConversationHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, "invalid request body")
			return
		}

		out, err := h.policy.MarkRead(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "dealId"), req.UpTo)
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.OK(w, out)
	}
}

// ExportTranscript handles POST /deals/{dealId}/messages/export
func (h *ConversationHandler) ExportTranscript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := h.policy.ExportTranscript(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "dealId"))
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.Created(w, out)
	}
}
