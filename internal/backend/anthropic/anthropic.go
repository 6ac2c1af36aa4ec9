package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"manyshot/internal/backend"
)

const defaultMaxTokens = 4096

type Backend struct{}

func New() *Backend {
	return &Backend{}
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register("anthropic", New()); err != nil {
		panic(err)
	}
}

func (b *Backend) CheckReady() error {
	if apiKey() == "" {
		return errors.New("ANTHROPIC_API_KEY is not set")
	}
	return nil
}

func (b *Backend) GetModels() []string {
	return []string{"claude-sonnet-4-5", "claude-haiku-4-5"}
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

	client := anthropic.NewClient(
		anthropicopt.WithAPIKey(apiKey()),
	)

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(opts.Model),
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(opts.Prompt)),
		},
	}

	rsp, err := client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var builder strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			builder.WriteString(text.Text)
		}
	}

	result := builder.String()
	if len(result) == 0 {
		return "", errors.New("no response from Anthropic")
	}
	return result, nil
}

func apiKey() string {
	return strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
}
