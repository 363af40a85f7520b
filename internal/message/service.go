// Package message orchestrates one conversational turn: resolve the
// applications the caller names, call inference, execute the resulting
// instructions, and hand back the updated chat history and reversal stack.
// The service owns no state between calls; history and stack live with the
// caller.
package message

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schemachat/schemachat/internal/catalog"
	"github.com/schemachat/schemachat/internal/executor"
	"github.com/schemachat/schemachat/internal/inference"
	"github.com/schemachat/schemachat/internal/schema"
)

type Service struct {
	catalog   catalog.Repository
	inference inference.Client
	executor  *executor.Executor
	logger    *slog.Logger
}

func NewService(repo catalog.Repository, client inference.Client, exec *executor.Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: repo, inference: client, executor: exec, logger: logger}
}

// TurnResult is the complete outcome of one processed message. ChatHistory
// and ReverseStack are the caller's inputs with this turn's entries appended;
// MessageList holds only the new entries.
type TurnResult struct {
	MessageList   []inference.ChatMessage
	ChatHistory   []inference.ChatMessage
	ReverseStack  []executor.ReverseActionWrapper
	Clarification string
}

// ApplicationContents loads the schema payloads for the named applications.
// Every requested name must resolve; a missing one fails the whole lookup.
func (s *Service) ApplicationContents(ctx context.Context, names []string) ([]schema.ApplicationContent, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one application name is required")
	}
	apps, err := s.catalog.ListApplicationsByNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	byName := make(map[string]catalog.Application, len(apps))
	for _, app := range apps {
		byName[app.Name] = app
	}
	contents := make([]schema.ApplicationContent, 0, len(names))
	for _, name := range names {
		app, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("application %s: %w", name, catalog.ErrNotFound)
		}
		contents = append(contents, app.Content())
	}
	return contents, nil
}

// ExecuteTurn runs the full pipeline for one user message. The user message
// joins the history before inference so the service sees it as the latest
// turn.
func (s *Service) ExecuteTurn(
	ctx context.Context,
	applicationNames []string,
	userMessage string,
	history []inference.ChatMessage,
	stack []executor.ReverseActionWrapper,
) (TurnResult, error) {
	contents, err := s.ApplicationContents(ctx, applicationNames)
	if err != nil {
		return TurnResult{}, err
	}

	history = append(history, inference.ChatMessage{Role: inference.RoleUser, Content: userMessage})
	response, err := s.inference.Infer(ctx, inference.Request{
		Applications: contents,
		Message:      userMessage,
		ChatHistory:  history,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("inference: %w", err)
	}

	return s.ExecuteInferenceResponse(ctx, response, history, stack)
}

// ExecuteInferenceResponse executes an already-obtained inference response.
// A clarification short-circuits execution: the clarification text becomes
// the assistant message and a no-op marker keeps the reversal stack aligned
// with the history. On execution failure the inputs are returned unchanged.
func (s *Service) ExecuteInferenceResponse(
	ctx context.Context,
	response inference.Response,
	history []inference.ChatMessage,
	stack []executor.ReverseActionWrapper,
) (TurnResult, error) {
	if response.Clarification != "" {
		message := inference.ChatMessage{Role: inference.RoleAssistant, Content: response.Clarification}
		return TurnResult{
			MessageList:   []inference.ChatMessage{message},
			ChatHistory:   append(history, message),
			ReverseStack:  append(stack, executor.ReverseActionWrapper{Action: executor.ReverseClarification{}}),
			Clarification: response.Clarification,
		}, nil
	}

	messages, reversals, err := s.executor.Execute(ctx, response)
	if err != nil {
		return TurnResult{}, err
	}
	s.logger.InfoContext(ctx, "executed instructions", slog.Int("count", len(messages)))

	return TurnResult{
		MessageList:  messages,
		ChatHistory:  append(history, messages...),
		ReverseStack: append(stack, reversals...),
	}, nil
}

// ReverseInferenceResponse applies one popped reverse action. The caller pops
// the wrapper off its stack first and discards it only when this returns nil.
func (s *Service) ReverseInferenceResponse(ctx context.Context, wrapper executor.ReverseActionWrapper) error {
	if err := s.executor.Reverse(ctx, wrapper); err != nil {
		return fmt.Errorf("reverse: %w", err)
	}
	return nil
}
