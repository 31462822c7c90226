package speech

import (
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/service/capture"
	speechsvc "github.com/zhouzirui/voice-chat/backend/internal/service/speech"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

const maxUploadBytes = 25 << 20 // Whisper 单文件上限

// Handler 语音服务的HTTP处理器
type Handler struct {
	transcriber capture.Transcriber
	language    string
}

// New 创建语音处理器；transcriber 为空时转写端点返回 503
func New(transcriber capture.Transcriber, defaultLanguage string) *Handler {
	return &Handler{transcriber: transcriber, language: defaultLanguage}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Get("/voices", h.handleVoices)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 一次性转写整段录音，供不支持实时识别的浏览器使用
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, capture.UnsupportedMessage)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = h.language
	}

	text, err := h.transcriber.Transcribe(r.Context(), speech.TranscriptionRequest{
		AudioData: data,
		Format:    inferAudioFormat(header.Filename),
		Language:  language,
	})
	if err != nil {
		log.Printf("[speech] transcription error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text, "language": language})
}

func (h *Handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"default": speechsvc.DefaultVoice,
		"voices":  speechsvc.Voices(),
	})
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"service":       "speech",
		"transcription": h.transcriber != nil,
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext {
	case "mp3", "wav", "webm", "ogg", "m4a", "mp4", "mpeg", "mpga", "flac":
		return ext
	default:
		return "webm"
	}
}
