package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/schemachat/schemachat/internal/catalog"
	"github.com/schemachat/schemachat/internal/executor"
	"github.com/schemachat/schemachat/internal/inference"
	"github.com/schemachat/schemachat/internal/message"
)

type MessageService interface {
	ExecuteTurn(ctx context.Context, applicationNames []string, userMessage string, history []inference.ChatMessage, stack []executor.ReverseActionWrapper) (message.TurnResult, error)
	ReverseInferenceResponse(ctx context.Context, wrapper executor.ReverseActionWrapper) error
}

type messageRequest struct {
	ApplicationNames []string                        `json:"application_names"`
	Message          string                          `json:"message"`
	ChatHistory      []inference.ChatMessage         `json:"chat_history"`
	ReverseStack     []executor.ReverseActionWrapper `json:"reverse_stack"`
}

type reverseRequest struct {
	ReverseStack []executor.ReverseActionWrapper `json:"reverse_stack"`
}

func handleExecuteMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Messages == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MESSAGES_NOT_CONFIGURED", "message dependencies are not configured", false, nil)
		return
	}

	var req messageRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid message request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}
	if len(req.ApplicationNames) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "APPLICATIONS_REQUIRED", "at least one application name is required", false, nil)
		return
	}

	result, err := deps.Messages.ExecuteTurn(r.Context(), req.ApplicationNames, req.Message, req.ChatHistory, req.ReverseStack)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "APPLICATION_NOT_FOUND", err.Error(), false, nil)
		case errors.Is(err, executor.ErrTableNotFound):
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "TABLE_NOT_FOUND", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "EXECUTION_ERROR", err.Error(), true, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message_list":  result.MessageList,
		"chat_history":  result.ChatHistory,
		"reverse_stack": result.ReverseStack,
		"clarification": result.Clarification,
	})
}

// handleReverseMessage pops the newest action off the caller-supplied stack,
// applies it, and returns the shrunken stack. The stack entry is consumed
// only on success; on failure the caller retries with the same stack.
func handleReverseMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Messages == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "MESSAGES_NOT_CONFIGURED", "message dependencies are not configured", false, nil)
		return
	}

	var req reverseRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid reverse request body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(req.ReverseStack) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "REVERSE_STACK_EMPTY", "there is nothing to reverse", false, nil)
		return
	}

	last := req.ReverseStack[len(req.ReverseStack)-1]
	if err := deps.Messages.ReverseInferenceResponse(r.Context(), last); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "REVERSAL_ERROR", err.Error(), true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reverse_stack": req.ReverseStack[:len(req.ReverseStack)-1],
	})
}
