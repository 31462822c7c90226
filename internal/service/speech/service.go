// Package speech synthesizes reply audio and transcribes recorded audio
// through the OpenAI audio endpoints.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

var (
	ErrSpeechDisabled = errors.New("speech service is not configured")
	ErrEmptyText      = errors.New("text is required")
	ErrEmptyAudio     = errors.New("audio data is required")
)

// Service 语音服务：OpenAI TTS 合成与 Whisper 识别
type Service struct {
	client *openai.Client
	cfg    config.SpeechConfig
}

// NewService 使用服务端配置创建语音服务
func NewService(cfg config.SpeechConfig) (*Service, error) {
	if !cfg.Enabled() {
		return nil, ErrSpeechDisabled
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Service{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

// Synthesize 文字转语音，超长文本会被截断
func (s *Service) Synthesize(ctx context.Context, text, voice string) (*speech.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	input := Truncate(text, s.cfg.MaxChars)
	if input != text {
		log.Printf("[speech] text truncated from %d to %d characters", len([]rune(text)), s.cfg.MaxChars)
	}

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.TTSModel),
		Input:          input,
		Voice:          ResolveVoice(voice, s.cfg.TTSVoice),
		ResponseFormat: openai.SpeechResponseFormat(s.cfg.TTSFormat),
		Speed:          s.cfg.TTSSpeed,
	}

	start := time.Now()
	resp, err := s.client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	log.Printf("[speech] synthesized voice=%s chars=%d bytes=%d elapsed=%s", req.Voice, len([]rune(input)), len(data), time.Since(start).Round(time.Millisecond))
	return &speech.Audio{Data: data, Format: s.cfg.TTSFormat}, nil
}

// Transcribe 语音转文字
func (s *Service) Transcribe(ctx context.Context, req speech.TranscriptionRequest) (string, error) {
	if len(req.AudioData) == 0 {
		return "", ErrEmptyAudio
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "webm"
	}
	language := req.Language
	if language == "" {
		language = s.cfg.ASRLanguage
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.ASRModel,
		Reader:   bytes.NewReader(req.AudioData),
		FilePath: "recording." + format,
		Language: isoLanguage(language),
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// isoLanguage reduces a BCP 47 tag such as pt-BR to its ISO-639-1 code.
func isoLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if idx := strings.IndexAny(tag, "-_"); idx > 0 {
		tag = tag[:idx]
	}
	return strings.ToLower(tag)
}
