package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"manyshot/internal/backend"
	"manyshot/internal/config"
)

const defaultHost = "http://localhost:11434"

type Backend struct {
	host   string
	client *http.Client
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func New() *Backend {
	return &Backend{client: &http.Client{}}
}

var _ backend.Backend = (*Backend)(nil)

func init() {
	if err := backend.Register("ollama", New()); err != nil {
		panic(err)
	}
}

func (b *Backend) CheckReady() error {
	req, err := http.NewRequest(http.MethodGet, b.hostURL()+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("ollama version request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama server not reachable at %s: %w", b.hostURL(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (b *Backend) GetModels() []string {
	return []string{"deepseek-r1:8b", "llama3.2", "qwen3"}
}

func (b *Backend) Generate(ctx context.Context, opts backend.GenerateOptions) (string, error) {
	if strings.TrimSpace(opts.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return "", errors.New("model is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	payload := generateRequest{
		Model:  opts.Model,
		Prompt: opts.Prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": opts.Temperature,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.hostURL()+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama error: %s", result.Error)
	}
	return result.Response, nil
}

func (b *Backend) hostURL() string {
	if strings.TrimSpace(b.host) != "" {
		return strings.TrimRight(b.host, "/")
	}
	if value, ok := config.GetConfig("ollama.host"); ok && strings.TrimSpace(value) != "" {
		return strings.TrimRight(strings.TrimSpace(value), "/")
	}
	return defaultHost
}
