// Package ai produces chat completions in the relay response shape, backed
// by either an OpenAI-compatible API or a Volcengine Ark model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

var (
	ErrProviderDisabled  = errors.New("completion provider is not configured")
	ErrMalformedResponse = errors.New("completion response has no content")
	ErrEmptyMessage      = errors.New("message is required")
)

// ChatProvider answers a single user message under a system instruction.
type ChatProvider interface {
	Chat(ctx context.Context, systemPrompt, message string) (*speech.CompletionResponse, error)
	Name() string
}

// NewProvider selects the provider named by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.AIConfig) (ChatProvider, error) {
	if !cfg.Enabled() {
		return nil, ErrProviderDisabled
	}

	switch cfg.Provider {
	case config.ProviderArk:
		return NewArkProvider(ctx, cfg)
	case config.ProviderOpenAI, "":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Completer adapts a ChatProvider to the plain-text completion contract
// used by chat sessions.
type Completer struct {
	provider ChatProvider
	timeout  time.Duration
}

// NewCompleter wraps provider. A positive timeout bounds each call.
func NewCompleter(provider ChatProvider, timeout time.Duration) *Completer {
	return &Completer{provider: provider, timeout: timeout}
}

// Complete returns the first choice of the provider response.
func (c *Completer) Complete(ctx context.Context, message, systemPrompt string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Chat(ctx, systemPrompt, message)
	if err != nil {
		return "", err
	}

	content, ok := resp.FirstContent()
	if !ok || strings.TrimSpace(content) == "" {
		return "", ErrMalformedResponse
	}

	log.Printf("[ai] %s completion length=%d elapsed=%s", c.provider.Name(), len(content), time.Since(start).Round(time.Millisecond))
	return content, nil
}
