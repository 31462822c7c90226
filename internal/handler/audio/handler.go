package audio

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// Handler 提供合成音频的下载与释放
type Handler struct {
	store *artifact.Store
}

// New 创建音频处理器
func New(store *artifact.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册音频路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audio/{audioID}", h.handleGet)
	r.Delete("/audio/{audioID}", h.handleRelease)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Get(chi.URLParam(r, "audioID"))
	if err != nil {
		respondLookupError(w, err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	// ServeContent 支持 Range 请求，播放器拖动进度条时按需读取
	http.ServeContent(w, r, a.ID+"."+a.Format, a.CreatedAt, bytes.NewReader(a.Data))
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Release(chi.URLParam(r, "audioID")); err != nil {
		respondLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, artifact.ErrReleased):
		utils.RespondError(w, http.StatusGone, err.Error())
	case errors.Is(err, artifact.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
