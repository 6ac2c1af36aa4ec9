package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	genaiopt "google.golang.org/api/option"

	"manyshot/internal/backend"
)

type Backend struct{}

func New() *Backend {
	return &Backend{}
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register("google", New()); err != nil {
		panic(err)
	}
}

func (b *Backend) CheckReady() error {
	if apiKey() == "" {
		return errors.New("GOOGLE_API_KEY is not set")
	}
	return nil
}

func (b *Backend) GetModels() []string {
	return []string{"gemini-2.0-flash", "gemini-1.5-pro"}
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

	client, err := genai.NewClient(ctx, genaiopt.WithAPIKey(apiKey()))
	if err != nil {
		return "", fmt.Errorf("create genai client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(opts.Model)
	model.SetTemperature(float32(opts.Temperature))

	rsp, err := model.GenerateContent(ctx, genai.Text(opts.Prompt))
	if err != nil {
		return "", fmt.Errorf("google request failed: %w", err)
	}
	if len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil || len(rsp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from Google")
	}

	var builder strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	return builder.String(), nil
}

func apiKey() string {
	if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
}
