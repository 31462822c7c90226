package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
	"github.com/zhouzirui/voice-chat/backend/internal/handler"
	"github.com/zhouzirui/voice-chat/backend/internal/model/profile"
	"github.com/zhouzirui/voice-chat/backend/internal/service/ai"
	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
	"github.com/zhouzirui/voice-chat/backend/internal/service/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	profileStore := profile.NewMemoryStore(profile.Seed())
	artifacts := artifact.NewStore(cfg.Audio.PublicPath)

	janitor, err := artifact.NewJanitor(artifacts, cfg.Audio.SweepSpec, cfg.Audio.ArtifactTTL)
	if err != nil {
		log.Fatalf("failed to schedule audio sweep: %v", err)
	}
	janitor.Start()

	base := chat.Deps{
		Artifacts:           artifacts,
		Voice:               cfg.Speech.TTSVoice,
		SystemPrompt:        cfg.AI.SystemPrompt,
		Language:            cfg.Speech.ASRLanguage,
		EscalationThreshold: cfg.Chat.EscalationThreshold,
	}
	deps := handler.Dependencies{
		Profiles:       profileStore,
		Artifacts:      artifacts,
		SystemPrompt:   cfg.AI.SystemPrompt,
		Language:       cfg.Speech.ASRLanguage,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	// Initialize completion provider
	provider, err := ai.NewProvider(ctx, cfg.AI)
	switch {
	case err == nil:
		log.Printf("completion provider %s initialized", provider.Name())
		deps.Provider = provider
		base.Completion = ai.NewCompleter(provider, cfg.AI.Timeout)
	case errors.Is(err, ai.ErrProviderDisabled):
		log.Println("completion credentials not configured, every turn will fall back")
	default:
		log.Printf("warning: failed to initialize completion provider: %v", err)
	}

	// Initialize speech service
	speechService, err := speech.NewService(cfg.Speech)
	switch {
	case err == nil:
		log.Println("speech service initialized successfully")
		deps.Synthesizer = speechService
		deps.Transcriber = speechService
		base.Synthesis = speechService
	case errors.Is(err, speech.ErrSpeechDisabled):
		log.Println("speech credentials not configured, replies will be text only")
	default:
		log.Printf("warning: failed to initialize speech service: %v", err)
	}

	chatService := chat.NewService(profileStore, base, cfg.Chat.DefaultProfile)
	deps.Chat = chatService

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router)

	chatService.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	janitor.Stop(shutdownCtx)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("voice chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
