package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/qianlnk/mafia/models"
	"github.com/rs/zerolog/log"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

// OpenAICompleter 调用兼容 OpenAI 的对话补全接口
type OpenAICompleter struct {
	client    openai.Client
	maxTokens int64
}

// NewOpenAICompleter builds a completer for an OpenAI compatible endpoint.
// An empty baseURL keeps the library default.
func NewOpenAICompleter(apiKey, baseURL string, maxTokens int64) *OpenAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompleter{
		client:    openai.NewClient(opts...),
		maxTokens: maxTokens,
	}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, model string, messages []models.ChatMessage) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}
	log.Debug().
		Str("model", model).
		Int("messages", len(messages)).
		Dur("took", time.Since(start)).
		Msg("completion done")

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.ChatSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.ChatAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
