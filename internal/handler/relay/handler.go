package relay

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-chat/backend/internal/model/profile"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/service/ai"
	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// Synthesizer 语音合成能力
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*speech.Audio, error)
}

// Handler 中继函数：浏览器端只通过这里间接访问模型，凭证留在服务端
type Handler struct {
	provider     ai.ChatProvider
	synthesizer  Synthesizer
	systemPrompt string
}

// New 创建中继处理器。provider 或 synthesizer 为 nil 时对应接口返回 500。
func New(provider ai.ChatProvider, synthesizer Synthesizer, systemPrompt string) *Handler {
	if systemPrompt == "" {
		systemPrompt = profile.DefaultSystemPrompt
	}
	return &Handler{provider: provider, synthesizer: synthesizer, systemPrompt: systemPrompt}
}

// RegisterRoutes 注册中继路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/relay/chat", h.handleChat)
	r.Post("/relay/audio", h.handleAudio)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload speech.CompletionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if h.provider == nil {
		utils.RespondError(w, http.StatusInternalServerError, ai.ErrProviderDisabled.Error())
		return
	}

	systemPrompt := payload.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = h.systemPrompt
	}

	resp, err := h.provider.Chat(r.Context(), systemPrompt, payload.Message)
	if err != nil {
		log.Printf("[relay] completion failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	var payload speech.SynthesisRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if h.synthesizer == nil {
		utils.RespondError(w, http.StatusInternalServerError, "speech synthesis is not configured")
		return
	}

	audio, err := h.synthesizer.Synthesize(r.Context(), payload.Text, payload.Voice)
	if err != nil {
		log.Printf("[relay] synthesis failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if wantsRawAudio(r) {
		w.Header().Set("Content-Type", artifact.ContentType(audio.Format))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(audio.Data); err != nil {
			log.Printf("[relay] write audio failed: %v", err)
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, speech.SynthesisEnvelope{
		AudioContent: base64.StdEncoding.EncodeToString(audio.Data),
		Format:       audio.Format,
	})
}

func wantsRawAudio(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if strings.HasPrefix(strings.TrimSpace(part), "audio/") {
			return true
		}
	}
	return false
}
