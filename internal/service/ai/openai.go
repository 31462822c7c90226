package ai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

// OpenAIProvider calls the chat completions endpoint of an OpenAI-compatible API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIProvider creates a provider from server-side configuration.
func NewOpenAIProvider(cfg config.AIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.OpenAIModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Name implements ChatProvider.
func (p *OpenAIProvider) Name() string { return config.ProviderOpenAI }

// Chat implements ChatProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, systemPrompt, message string) (*speech.CompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	out := &speech.CompletionResponse{Choices: make([]speech.Choice, 0, len(resp.Choices))}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, speech.Choice{
			Message: speech.ChoiceMessage{Role: choice.Message.Role, Content: choice.Message.Content},
		})
	}
	return out, nil
}
