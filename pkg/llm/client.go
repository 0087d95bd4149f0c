// Package llm wraps the Anthropic messages API behind a small interface so
// the decision engine can be tested without network access.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cortex-ops/cortex/pkg/config"
)

// Client produces a completion for a system/user prompt pair.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ErrNoAPIKey indicates the configured key environment variable is unset.
var ErrNoAPIKey = errors.New("llm api key not configured")

type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	logger    *slog.Logger
}

// New builds a Client from config, reading the API key from the configured
// environment variable.
func New(cfg config.LLMConfig) (Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoAPIKey, cfg.APIKeyEnv)
	}
	return &anthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(key)),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		timeout:   cfg.Timeout,
		logger:    slog.Default().With("component", "llm"),
	}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	started := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	c.logger.Debug("completion finished",
		"model", c.model,
		"duration", time.Since(started),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens)
	return sb.String(), nil
}
