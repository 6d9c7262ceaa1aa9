package completion

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
)

// Source opens a streaming completion for a windowed transcript. Opening may
// fail before any delta is produced; failures carry the upstream error text
// so callers can classify them.
type Source interface {
	Open(ctx context.Context, history []*models.Message, maxResponseTokens int) (Stream, error)
}

// Stream yields incremental text fragments. Recv returns io.EOF when the
// model finishes normally. Close drops the underlying connection without
// draining it.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// OpenAISource talks to an OpenAI-compatible chat completion endpoint.
type OpenAISource struct {
	client *openai.Client
	model  string
}

// NewOpenAISource builds the completion client from app config.
func NewOpenAISource(cfg config.OpenAIConfig) (*OpenAISource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAISource{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

var _ Source = (*OpenAISource)(nil)

// Open starts a streaming chat completion over the given history.
func (s *OpenAISource) Open(ctx context.Context, history []*models.Message, maxResponseTokens int) (Stream, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		Messages:  msgs,
		MaxTokens: maxResponseTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return &openAIStream{inner: stream}, nil
}

type openAIStream struct {
	inner *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error {
	return s.inner.Close()
}
