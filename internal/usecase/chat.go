package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"chat-gateway/internal/domain"
	"chat-gateway/internal/repository"
)

const (
	defaultMaxHistoryTurns = 20
	maxOutputTokens        = 512
	samplingTemperature    = 0.7

	// fallbackAnswer replaces an empty generation result. It is returned to
	// the caller and persisted as the assistant turn, so a soft generation
	// failure still completes the exchange.
	fallbackAnswer = "Sorry, I could not generate a response."
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Generate(ctx context.Context, model string, messages []domain.ChatTurn, params domain.GenerationParams) (string, error)
}

// HistoryStore is the conversation-history persistence consumed by the chat
// service. Satisfied by repository.Client.
type HistoryStore interface {
	GetHistory(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
	PutHistory(ctx context.Context, sessionID string, turns []domain.ChatTurn) error
	GetHistoryVersioned(ctx context.Context, sessionID string) ([]domain.ChatTurn, int64, error)
	PutHistoryVersioned(ctx context.Context, sessionID string, turns []domain.ChatTurn, expectedVersion int64) error
	DeleteHistory(ctx context.Context, sessionID string) error
}

// ChatService runs one chat exchange per call: load history, compose the
// prompt, generate, persist the updated window. It holds no per-session state
// between calls; the store is the sole durable owner of history.
type ChatService struct {
	params           ParamGetter
	llm              LLMClient
	store            HistoryStore
	paramPrefix      string
	maxHistoryTurns  int
	consistentWrites bool

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
}

type ChatInput struct {
	Message   string
	SessionID string
}

type ChatOutput struct {
	Response  string
	SessionID string
}

func NewChatService(p ParamGetter, llm LLMClient, store HistoryStore, paramPrefix string, maxHistoryTurns int, consistentWrites bool) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = defaultMaxHistoryTurns
	}
	return &ChatService{
		params:           p,
		llm:              llm,
		store:            store,
		paramPrefix:      paramPrefix,
		maxHistoryTurns:  maxHistoryTurns,
		consistentWrites: consistentWrites,
	}, nil
}

// Chat performs one exchange for a session. On any failure the stored history
// is left untouched; the write happens only after a successful generation.
// Concurrent calls for the same session race last-write-wins on the store
// write unless the service was built with consistentWrites, in which case the
// losing writer fails with ErrorConflict instead of overwriting.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_message", nil)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}

	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	var (
		history []domain.ChatTurn
		version int64
		err     error
	)
	if s.consistentWrites {
		history, version, err = s.store.GetHistoryVersioned(ctx, sessionID)
	} else {
		history, err = s.store.GetHistory(ctx, sessionID)
	}
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "history_read_error", err)
	}

	answer, err := s.llm.Generate(ctx, s.model, buildPromptMessages(history, message), domain.GenerationParams{
		MaxTokens:   maxOutputTokens,
		Temperature: samplingTemperature,
	})
	if err != nil {
		return ChatOutput{}, newError(ErrorUpstream, "llm_error", err)
	}
	if answer == "" {
		answer = fallbackAnswer
	}

	updated := truncateHistory(appendExchange(history, message, answer), s.maxHistoryTurns)

	if s.consistentWrites {
		err = s.store.PutHistoryVersioned(ctx, sessionID, updated, version)
		if errors.Is(err, repository.ErrVersionConflict) {
			return ChatOutput{}, newError(ErrorConflict, "history_version_conflict", err)
		}
	} else {
		err = s.store.PutHistory(ctx, sessionID, updated)
	}
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "history_write_error", err)
	}

	return ChatOutput{
		Response:  answer,
		SessionID: sessionID,
	}, nil
}

// Clear deletes a session's stored history. Clearing a session that has no
// history is a no-op, not an error; an absent session id just deletes an
// undefined key.
func (s *ChatService) Clear(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteHistory(ctx, strings.TrimSpace(sessionID)); err != nil {
		return newError(ErrorInternal, "history_delete_error", err)
	}
	return nil
}

// ensureConfig lazily loads the model identifier from SSM once per process.
func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/model")
	if err != nil {
		return err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("usecase: model parameter is empty")
	}

	s.model = model
	s.cacheLoaded = true
	return nil
}
