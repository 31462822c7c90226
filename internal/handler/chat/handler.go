package chat

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/voice-chat/backend/internal/service/chat"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// Handler 聊天会话的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Delete("/session/{sessionID}", h.handleCloseSession)
	r.Get("/session/{sessionID}/messages", h.handleListMessages)
	r.Post("/session/{sessionID}/messages", h.handleSubmitText)
	r.Post("/session/{sessionID}/voice", h.handleSubmitVoice)
}

type sessionResponse struct {
	Session  chat.SessionInfo `json:"session"`
	Messages []chat.Message   `json:"messages"`
}

type submitRequest struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript,omitempty"`
}

// handleCreateSession 创建会话并返回问候语
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProfileID string `json:"profileId"`
	}
	// 请求体可以为空，此时使用默认 profile
	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.ProfileID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrProfileNotFound) || errors.Is(err, chatService.ErrProfileRequired) {
			status = http.StatusBadRequest
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionResponse{Session: session.Info(), Messages: session.Messages()})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.List())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionResponse{Session: session.Info(), Messages: session.Messages()})
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Messages())
}

// handleSubmitText 提交文本消息，回复生成期间拒绝新的提交
func (h *Handler) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload submitRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := session.SubmitText(r.Context(), payload.Text)
	respondOutcome(w, outcome, err)
}

// handleSubmitVoice 提交语音识别结果，回复生成期间排队等待
func (h *Handler) handleSubmitVoice(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload submitRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text := payload.Transcript
	if text == "" {
		text = payload.Text
	}
	outcome, err := session.SubmitVoiceTranscript(r.Context(), text)
	respondOutcome(w, outcome, err)
}

func respondOutcome(w http.ResponseWriter, outcome chatService.Outcome, err error) {
	switch {
	case errors.Is(err, chatService.ErrTurnInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrSessionClosed):
		utils.RespondError(w, http.StatusGone, err.Error())
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	case outcome.Status == chatService.StatusRejected:
		utils.RespondError(w, http.StatusBadRequest, "text is required")
	case outcome.Status == chatService.StatusDeferred:
		utils.RespondJSON(w, http.StatusAccepted, outcome)
	default:
		utils.RespondJSON(w, http.StatusOK, outcome)
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*chatService.Session, bool) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return session, true
}
