package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// 支持的补全服务提供方
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Speech SpeechConfig
	Chat   ChatConfig
	Audio  AudioConfig
	Relay  RelayConfig
}

// Load 从环境变量加载配置。凭证只在服务端解析，不会下发给客户端。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	addr, err := resolveAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	switch cfg.AI.Provider {
	case ProviderOpenAI, ProviderArk:
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER value: %q", cfg.AI.Provider)
	}

	// 没有单独的语音凭证时复用 OpenAI 凭证
	if strings.TrimSpace(cfg.Speech.APIKey) == "" {
		cfg.Speech.APIKey = cfg.AI.OpenAIAPIKey
	}
	if strings.TrimSpace(cfg.Speech.BaseURL) == "" {
		cfg.Speech.BaseURL = cfg.AI.OpenAIBaseURL
	}

	if cfg.Speech.MaxChars <= 0 {
		return nil, fmt.Errorf("invalid SPEECH_MAX_CHARS value: %d", cfg.Speech.MaxChars)
	}
	if cfg.Chat.EscalationThreshold < 1 {
		cfg.Chat.EscalationThreshold = 1
	}

	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	Addr           string
}

// resolveAddr 解析服务器监听地址。
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider      string        `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL"`
	OpenAIModel   string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	Temperature   float32       `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	MaxTokens     int           `env:"LLM_MAX_TOKENS"`
	SystemPrompt  string        `env:"SYSTEM_PROMPT"`
	Timeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`

	ArkAPIKey    string `env:"ARK_API_KEY"`
	ArkAccessKey string `env:"ARK_ACCESS_KEY"`
	ArkSecretKey string `env:"ARK_SECRET_KEY"`
	ArkModel     string `env:"ARK_MODEL"`
	ArkBaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	ArkRegion    string `env:"ARK_REGION" envDefault:"cn-beijing"`
}

// Enabled 表示当前提供方是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.OpenAIAPIKey != ""
	}
}

// NewChatModel 使用 Ark 配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.ArkModel == "" || (c.ArkAPIKey == "" && (c.ArkAccessKey == "" || c.ArkSecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	temperature := c.Temperature

	var maxTokens *int
	if c.MaxTokens > 0 {
		val := c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

// SpeechConfig 描述语音合成与识别相关配置
type SpeechConfig struct {
	APIKey      string        `env:"SPEECH_API_KEY"`
	BaseURL     string        `env:"SPEECH_BASE_URL"`
	TTSModel    string        `env:"SPEECH_TTS_MODEL" envDefault:"tts-1"`
	TTSVoice    string        `env:"SPEECH_TTS_VOICE" envDefault:"onyx"`
	TTSFormat   string        `env:"SPEECH_TTS_FORMAT" envDefault:"mp3"`
	TTSSpeed    float64       `env:"SPEECH_TTS_SPEED" envDefault:"1.0"`
	MaxChars    int           `env:"SPEECH_MAX_CHARS" envDefault:"4000"`
	ASRModel    string        `env:"SPEECH_ASR_MODEL" envDefault:"whisper-1"`
	ASRLanguage string        `env:"SPEECH_ASR_LANGUAGE" envDefault:"pt-BR"`
	Timeout     time.Duration `env:"SPEECH_TIMEOUT" envDefault:"30s"`
	Disabled    bool          `env:"SPEECH_DISABLED" envDefault:"false"`
}

// Enabled 表示语音服务是否可用。
func (c SpeechConfig) Enabled() bool {
	return !c.Disabled && strings.TrimSpace(c.APIKey) != ""
}

// ChatConfig 描述会话层行为。
type ChatConfig struct {
	EscalationThreshold int    `env:"CHAT_ESCALATION_THRESHOLD" envDefault:"3"`
	DefaultProfile      string `env:"CHAT_DEFAULT_PROFILE" envDefault:"default"`
}

// AudioConfig 描述音频制品的生命周期。
type AudioConfig struct {
	ArtifactTTL time.Duration `env:"AUDIO_ARTIFACT_TTL" envDefault:"30m"`
	SweepSpec   string        `env:"AUDIO_SWEEP_SPEC" envDefault:"@every 5m"`
	PublicPath  string        `env:"AUDIO_PUBLIC_PATH" envDefault:"/api/audio"`
}

// RelayConfig 描述客户端访问中继函数的方式（命令行工具使用）。
type RelayConfig struct {
	BaseURL string        `env:"RELAY_BASE_URL" envDefault:"http://localhost:8080/api/relay"`
	Timeout time.Duration `env:"RELAY_TIMEOUT" envDefault:"60s"`
}
