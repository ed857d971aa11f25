package http

import (
	"errors"
	"log/slog"
	"net/http"

	conventity "github.com/vadim/dealroom/internal/domain/conversation/entity"
	convpolicy "github.com/vadim/dealroom/internal/domain/conversation/policy"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/httpx/response"
)

// handleError maps core errors to status codes with the reason the caller can act on
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var transitionErr *entity.InvalidTransitionError

	switch {
	case errors.Is(err, entity.ErrUnauthenticated):
		response.Error(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, entity.ErrDealNotFound), errors.Is(err, conventity.ErrConversationNotFound):
		response.Error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, entity.ErrForbidden):
		response.Error(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.As(err, &transitionErr):
		response.Error(w, http.StatusConflict, "invalid_transition", transitionErr.UserMessage())
	case errors.Is(err, entity.ErrConflict), errors.Is(err, conventity.ErrSeqTaken):
		response.Error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, conventity.ErrEmptyMessage):
		response.Error(w, http.StatusBadRequest, "empty_message", err.Error())
	case errors.Is(err, entity.ErrValidation),
		errors.Is(err, conventity.ErrMessageTooLong),
		errors.Is(err, conventity.ErrInvalidCursor),
		errors.Is(err, conventity.ErrInvalidSender):
		response.Error(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, convpolicy.ErrExportDisabled):
		response.Error(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		logger.Error("request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// badRequest reports malformed input that never reached the core
func badRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, "validation", message)
}
