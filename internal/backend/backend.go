package backend

import (
	"context"
	"time"
)

// GenerateOptions controls a single completion request.
type GenerateOptions struct {
	Model       string
	Prompt      string
	Temperature float64
	Timeout     time.Duration
}

// Backend defines the interface for text-generation backends.
type Backend interface {
	CheckReady() error
	GetModels() []string
	Generate(ctx context.Context, opts GenerateOptions) (string, error)
}
