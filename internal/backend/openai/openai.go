package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"manyshot/internal/backend"
	"manyshot/internal/config"
)

type Backend struct{}

func New() *Backend {
	return &Backend{}
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register("openai", New()); err != nil {
		panic(err)
	}
}

func (b *Backend) CheckReady() error {
	if apiKey() == "" {
		return errors.New("OPENAI_API_KEY is not set")
	}
	return nil
}

func (b *Backend) GetModels() []string {
	return []string{"gpt-4o", "gpt-4o-mini"}
}

func (b *Backend) Generate(ctx context.Context, opts backend.GenerateOptions) (string, error) {
	if strings.TrimSpace(opts.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return "", errors.New("model is required")
	}
	if err := b.CheckReady(); err != nil {
		return "", err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	clientConfig := openai.DefaultConfig(apiKey())
	if base := baseURL(); base != "" {
		clientConfig.BaseURL = base
	}
	client := openai.NewClientWithConfig(clientConfig)

	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Temperature: float32(opts.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: opts.Prompt,
			},
		},
	}

	rsp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(rsp.Choices) == 0 || len(rsp.Choices[0].Message.Content) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return rsp.Choices[0].Message.Content, nil
}

func apiKey() string {
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		return key
	}
	if value, ok := config.GetConfig("openai.api_key"); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func baseURL() string {
	if value, ok := config.GetConfig("openai.base_url"); ok {
		return strings.TrimRight(strings.TrimSpace(value), "/")
	}
	return ""
}
