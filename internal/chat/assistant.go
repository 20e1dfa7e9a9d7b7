// Package chat answers users' questions about a problem with an LLM, spending
// one unit of their chat quota per answered question.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one stored turn of a user's conversation.
type Message struct {
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt is what the user asked, with the problem and code it is about.
type Prompt struct {
	ProblemStatement string
	Code             string
	Message          string
	// History holds earlier turns, oldest first.
	History []Message
}

// Assistant produces a reply to a prompt.
type Assistant interface {
	Reply(ctx context.Context, prompt Prompt) (string, error)
}

// OpenAIConfig configures an OpenAIAssistant.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIAssistant calls the OpenAI chat completions API.
type OpenAIAssistant struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIAssistant(cfg OpenAIConfig) (*OpenAIAssistant, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIAssistant{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

func (a *OpenAIAssistant) Reply(ctx context.Context, prompt Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: buildMessages(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return resp.Choices[0].Message.Content, nil
}

func systemPrompt(p Prompt) string {
	return fmt.Sprintf("You are an expert coding assistant. Context:\nProblem: %s\nUser's Current Code: %s\nKeep answers concise.",
		p.ProblemStatement, p.Code)
}

func buildMessages(p Prompt) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(p.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(p),
	})
	for _, m := range p.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.Message,
	})
}
