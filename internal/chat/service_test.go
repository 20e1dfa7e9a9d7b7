package chat

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/ratelimit"
)

type fakeAssistant struct {
	mu      sync.Mutex
	calls   int
	prompts []Prompt
	err     error
}

func (f *fakeAssistant) Reply(ctx context.Context, p Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return "", f.err
	}
	return "reply to " + p.Message, nil
}

type memoryHistory struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (h *memoryHistory) SaveMessage(ctx context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.messages = append(h.messages, msg)
	return nil
}

func (h *memoryHistory) RecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	var mine []Message
	for _, m := range h.messages {
		if m.UserID == userID {
			mine = append(mine, m)
		}
	}
	if len(mine) > limit {
		mine = mine[len(mine)-limit:]
	}
	return mine, nil
}

func newGuard(t *testing.T, max int) *ratelimit.Guard {
	t.Helper()
	g, err := ratelimit.NewGuard(ratelimit.NewMemoryStore(),
		ratelimit.Limit{MaxRequests: max, Period: 7 * 24 * time.Hour}, logging.NewNopLogger())
	require.NoError(t, err)
	return g
}

func TestService_Ask(t *testing.T) {
	assistant := &fakeAssistant{}
	svc := NewService(newGuard(t, 2), assistant, logging.NewNopLogger())
	ctx := context.Background()

	reply, err := svc.Ask(ctx, 1, Prompt{Message: "first"})
	require.NoError(t, err)
	assert.Equal(t, "reply to first", reply)

	_, err = svc.Ask(ctx, 1, Prompt{Message: "second"})
	require.NoError(t, err)

	_, err = svc.Ask(ctx, 1, Prompt{Message: "third"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	_, ok := errors.RetryAfter(err)
	assert.True(t, ok)

	assert.Equal(t, 2, assistant.calls, "denied questions never reach the assistant")
}

func TestService_Ask_EmptyMessageSpendsNothing(t *testing.T) {
	assistant := &fakeAssistant{}
	svc := NewService(newGuard(t, 1), assistant, logging.NewNopLogger())
	ctx := context.Background()

	_, err := svc.Ask(ctx, 1, Prompt{Message: "  "})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = svc.Ask(ctx, 1, Prompt{Message: "real question"})
	assert.NoError(t, err)
}

func TestService_Ask_AssistantFailureStillSpendsQuota(t *testing.T) {
	assistant := &fakeAssistant{err: stderrors.New("upstream 503")}
	svc := NewService(newGuard(t, 1), assistant, logging.NewNopLogger())
	ctx := context.Background()

	_, err := svc.Ask(ctx, 1, Prompt{Message: "hello"})
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))

	assistant.err = nil
	_, err = svc.Ask(ctx, 1, Prompt{Message: "hello again"})
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
}

func TestService_Ask_History(t *testing.T) {
	assistant := &fakeAssistant{}
	history := &memoryHistory{}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(newGuard(t, 10), assistant, logging.NewNopLogger(),
		WithHistory(history, 2), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := svc.Ask(ctx, 1, Prompt{Message: "q1"})
	require.NoError(t, err)
	_, err = svc.Ask(ctx, 1, Prompt{Message: "q2"})
	require.NoError(t, err)

	require.Len(t, history.messages, 4)
	assert.Equal(t, Message{UserID: 1, Role: RoleUser, Content: "q1", CreatedAt: now}, history.messages[0])
	assert.Equal(t, Message{UserID: 1, Role: RoleAssistant, Content: "reply to q1", CreatedAt: now}, history.messages[1])

	assert.Empty(t, assistant.prompts[0].History)
	assert.Equal(t, []Message{history.messages[0], history.messages[1]}, assistant.prompts[1].History)
}

func TestService_Ask_HistoryFailuresAreNotFatal(t *testing.T) {
	history := &memoryHistory{err: stderrors.New("disk full")}
	svc := NewService(newGuard(t, 1), &fakeAssistant{}, logging.NewNopLogger(), WithHistory(history, 0))

	reply, err := svc.Ask(context.Background(), 1, Prompt{Message: "q"})
	require.NoError(t, err)
	assert.Equal(t, "reply to q", reply)
}
