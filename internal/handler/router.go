package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voice-chat/backend/internal/handler/audio"
	"github.com/zhouzirui/voice-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/handler/profile"
	"github.com/zhouzirui/voice-chat/backend/internal/handler/relay"
	"github.com/zhouzirui/voice-chat/backend/internal/handler/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/voice-chat/backend/internal/middleware"
	profileModel "github.com/zhouzirui/voice-chat/backend/internal/model/profile"
	"github.com/zhouzirui/voice-chat/backend/internal/service/ai"
	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
	"github.com/zhouzirui/voice-chat/backend/internal/service/capture"
	chatService "github.com/zhouzirui/voice-chat/backend/internal/service/chat"
	"github.com/zhouzirui/voice-chat/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is built on. Provider,
// Synthesizer and Transcriber may be nil when their credentials are missing.
type Dependencies struct {
	Profiles       profileModel.Store
	Chat           *chatService.Service
	Artifacts      *artifact.Store
	Provider       ai.ChatProvider
	Synthesizer    relay.Synthesizer
	Transcriber    capture.Transcriber
	SystemPrompt   string
	Language       string
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":     "ok",
				"completion": deps.Provider != nil,
				"synthesis":  deps.Synthesizer != nil,
			})
		})

		profile.New(deps.Profiles).RegisterRoutes(api)
		chat.New(deps.Chat).RegisterRoutes(api)
		stream.New(deps.Chat).RegisterRoutes(api)
		audio.New(deps.Artifacts).RegisterRoutes(api)
		relay.New(deps.Provider, deps.Synthesizer, deps.SystemPrompt).RegisterRoutes(api)
		speech.New(deps.Transcriber, deps.Language).RegisterRoutes(api)
		speech.NewWebSocketHandler(deps.Chat, deps.Transcriber).RegisterWebSocketRoutes(api)
	})

	return r
}
