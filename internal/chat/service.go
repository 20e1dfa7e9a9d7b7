package chat

import (
	"context"
	"strings"
	"time"

	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/ratelimit"
)

const defaultHistoryTurns = 6

// Quota admits or denies one unit of a user's chat allowance.
type Quota interface {
	Acquire(ctx context.Context, userID int64) (ratelimit.Decision, error)
}

// History stores conversation turns.
type History interface {
	SaveMessage(ctx context.Context, msg Message) error
	// RecentMessages returns up to limit of the user's latest turns, oldest first.
	RecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error)
}

type Option func(*Service)

// WithHistory stores every answered turn and replays the latest turns to
// the assistant.
func WithHistory(h History, turns int) Option {
	return func(s *Service) {
		s.history = h
		if turns > 0 {
			s.historyTurns = turns
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service checks the user's quota before every question.
type Service struct {
	quota        Quota
	assistant    Assistant
	history      History
	historyTurns int
	now          func() time.Time
	logger       logging.Logger
}

func NewService(quota Quota, assistant Assistant, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		quota:        quota,
		assistant:    assistant,
		historyTurns: defaultHistoryTurns,
		now:          time.Now,
		logger:       logging.OrGlobal(logger).WithFields(logging.String("component", "chat")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask answers prompt for userID. A denied quota returns the rate_limit error
// from the guard and the assistant is not called. Quota is spent once
// admitted, even if the assistant then fails.
func (s *Service) Ask(ctx context.Context, userID int64, prompt Prompt) (string, error) {
	if strings.TrimSpace(prompt.Message) == "" {
		return "", errors.ValidationError("message is required")
	}

	if _, err := s.quota.Acquire(ctx, userID); err != nil {
		return "", err
	}

	if s.history != nil {
		past, err := s.history.RecentMessages(ctx, userID, s.historyTurns)
		if err != nil {
			s.logger.Warn("Failed to load chat history", logging.Int64("user_id", userID), logging.Err(err))
		} else {
			prompt.History = past
		}
	}

	reply, err := s.assistant.Reply(ctx, prompt)
	if err != nil {
		s.logger.Error("Assistant failed after quota was spent", err, logging.Int64("user_id", userID))
		return "", errors.InternalError("assistant unavailable", err)
	}

	if s.history != nil {
		now := s.now()
		for _, msg := range []Message{
			{UserID: userID, Role: RoleUser, Content: prompt.Message, CreatedAt: now},
			{UserID: userID, Role: RoleAssistant, Content: reply, CreatedAt: now},
		} {
			if err := s.history.SaveMessage(ctx, msg); err != nil {
				s.logger.Warn("Failed to save chat message", logging.Int64("user_id", userID), logging.Err(err))
			}
		}
	}

	return reply, nil
}
