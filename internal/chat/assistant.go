package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"edugen/internal/backend"

	"github.com/sashabaranov/go-openai"
)

// Turn is one prior exchange entry sent as conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is what an assistant returns for a single question.
type Reply struct {
	Text    string   `json:"reply"`
	Sources []string `json:"sources,omitempty"`
}

// Assistant answers textbook questions.
type Assistant interface {
	Reply(ctx context.Context, message string, history []Turn) (Reply, error)
}

var ErrChatRequestFailed = errors.New("chat request failed")

// ==================== Backend ====================

const ChatPath = "/api/v1/chat"

// BackendAssistant calls the lesson backend's chat endpoint.
type BackendAssistant struct {
	client *backend.Client
}

func NewBackendAssistant(client *backend.Client) *BackendAssistant {
	return &BackendAssistant{client: client}
}

type chatRequest struct {
	Message string `json:"message"`
	History []Turn `json:"history"`
}

func (a *BackendAssistant) Reply(ctx context.Context, message string, history []Turn) (Reply, error) {
	if history == nil {
		history = []Turn{}
	}
	var out Reply
	if err := a.client.PostJSON(ctx, ChatPath, chatRequest{Message: message, History: history}, &out); err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrChatRequestFailed, err)
	}
	return out, nil
}

// ==================== OpenAI ====================

const tutorPrompt = `You are a teaching assistant for a school teacher preparing lessons from an uploaded textbook.
Answer questions clearly and concisely at the level of the textbook. If you are unsure, say so.`

// OpenAIAssistant talks to an OpenAI-compatible endpoint directly. It is
// meant for local development when no lesson backend is running.
type OpenAIAssistant struct {
	client *openai.Client
	model  string
}

func NewOpenAIAssistant(apiKey, model, baseURL string) *OpenAIAssistant {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAssistant{client: openai.NewClientWithConfig(cfg), model: model}
}

func (a *OpenAIAssistant) Reply(ctx context.Context, message string, history []Turn) (Reply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: tutorPrompt})
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == string(RoleAssistant) {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    msgs,
		Temperature: 0.3,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("%w: openai: %w", ErrChatRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("%w: openai empty response", ErrChatRequestFailed)
	}
	return Reply{Text: resp.Choices[0].Message.Content}, nil
}
