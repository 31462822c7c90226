// Package relay implements clients for the two relay endpoints that keep
// the model credential on the server: chat completion and speech synthesis.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

const maxResponseBytes = 32 << 20

var ErrMalformedResponse = errors.New("relay response is malformed")

// StatusError reports a non-2xx relay response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay responded with HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("relay responded with HTTP %d: %s", e.StatusCode, e.Message)
}

type base struct {
	endpoint string
	http     *http.Client
}

func newBase(endpoint string, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return base{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

func (b base) post(ctx context.Context, payload any, accept string) (*http.Response, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	return resp, nil
}

func errorMessage(raw []byte) string {
	var envelope speech.ErrorEnvelope
	if err := sonic.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return strings.TrimSpace(string(raw))
}

// CompletionClient calls the chat completion relay.
type CompletionClient struct {
	base
}

// NewCompletionClient creates a client for the completion relay at endpoint.
func NewCompletionClient(endpoint string, timeout time.Duration) *CompletionClient {
	return &CompletionClient{base: newBase(endpoint, timeout)}
}

// Complete sends one message and returns the first choice.
func (c *CompletionClient) Complete(ctx context.Context, message, systemPrompt string) (string, error) {
	resp, err := c.post(ctx, speech.CompletionRequest{Message: message, SystemPrompt: systemPrompt}, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read relay response: %w", err)
	}

	var out speech.CompletionResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	content, ok := out.FirstContent()
	if !ok || strings.TrimSpace(content) == "" {
		return "", ErrMalformedResponse
	}
	return content, nil
}

// SynthesisClient calls the speech synthesis relay.
type SynthesisClient struct {
	base
}

// NewSynthesisClient creates a client for the synthesis relay at endpoint.
func NewSynthesisClient(endpoint string, timeout time.Duration) *SynthesisClient {
	return &SynthesisClient{base: newBase(endpoint, timeout)}
}

// Synthesize requests audio for text. The relay may answer with raw audio
// or with a JSON envelope carrying base64 audio; both are returned as-is
// for the artifact decoder.
func (c *SynthesisClient) Synthesize(ctx context.Context, text, voice string) (*speech.Audio, error) {
	resp, err := c.post(ctx, speech.SynthesisRequest{Text: text, Voice: voice}, "audio/*, application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read relay audio: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrMalformedResponse
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return &speech.Audio{Data: raw, Format: mediaType}, nil
	case mediaType == "application/json":
		var envelope speech.SynthesisEnvelope
		if err := sonic.Unmarshal(raw, &envelope); err != nil || envelope.AudioContent == "" {
			return nil, ErrMalformedResponse
		}
		return &speech.Audio{Data: raw, Format: envelope.Format}, nil
	default:
		log.Printf("[relay] unexpected synthesis content type %q, passing body through", mediaType)
		return &speech.Audio{Data: raw}, nil
	}
}
