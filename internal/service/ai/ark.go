package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

// ArkProvider runs a prompt-template + Ark chat model chain.
type ArkProvider struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkProvider compiles the completion chain for the configured Ark model.
func NewArkProvider(ctx context.Context, cfg config.AIConfig) (*ArkProvider, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkProvider{chain: runnable}, nil
}

// Name implements ChatProvider.
func (p *ArkProvider) Name() string { return config.ProviderArk }

// Chat implements ChatProvider.
func (p *ArkProvider) Chat(ctx context.Context, systemPrompt, message string) (*speech.CompletionResponse, error) {
	resp, err := p.chain.Invoke(ctx, map[string]any{
		"system": systemPrompt,
		"query":  message,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run chat chain: %w", err)
	}

	return &speech.CompletionResponse{Choices: []speech.Choice{{
		Message: speech.ChoiceMessage{Role: string(resp.Role), Content: resp.Content},
	}}}, nil
}
