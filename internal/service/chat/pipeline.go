package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
)

// User-facing texts produced by the pipeline.
const (
	FallbackReply      = "Desculpe, ocorreu um erro ao processar sua mensagem. Estamos enfrentando problemas técnicos."
	FailureNotice      = "Ocorreu um erro ao processar sua mensagem"
	EscalationNotice   = "Problema persistente detectado. Verifique os logs do console para mais detalhes."
	SynthesisNotice    = "Não foi possível gerar o áudio da resposta"
	defaultEscalateAt  = 3
	maxLoggedTextRunes = 80
)

// CompletionService produces the assistant reply for a user message.
type CompletionService interface {
	Complete(ctx context.Context, message, systemPrompt string) (string, error)
}

// SynthesisService turns reply text into audio.
type SynthesisService interface {
	Synthesize(ctx context.Context, text, voice string) (*speech.Audio, error)
}

// ArtifactStore keeps synthesized audio addressable for playback.
type ArtifactStore interface {
	Register(owner string, a *artifact.Artifact) chat.AudioRef
	ReleaseOwner(owner string) int
}

// Status is the result category of one submission.
type Status string

const (
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFallback  Status = "fallback"
	StatusDeferred  Status = "deferred"
	StatusBusy      Status = "busy"
)

// Outcome describes what a submission did to the conversation.
type Outcome struct {
	Status       Status        `json:"status"`
	User         *chat.Message `json:"user,omitempty"`
	Assistant    *chat.Message `json:"assistant,omitempty"`
	FailureCount int           `json:"failureCount"`
	Escalated    bool          `json:"escalated"`
	Err          error         `json:"-"`
}

// PipelineConfig carries the per-session settings of a pipeline.
type PipelineConfig struct {
	Owner               string
	SystemPrompt        string
	Voice               string
	EscalationThreshold int
}

// Pipeline runs one conversational turn: record the user message, obtain
// the reply, attach synthesized audio when possible, record the reply.
type Pipeline struct {
	store      *ConversationStore
	completion CompletionService
	synthesis  SynthesisService
	artifacts  ArtifactStore
	cfg        PipelineConfig

	onAppend func(chat.Message)
	onNotice func(Notice)

	mu       sync.Mutex
	failures int
	inFlight atomic.Bool
	shutdown atomic.Bool
}

// NewPipeline wires a pipeline. synthesis and artifacts may be nil, in which
// case replies carry no audio.
func NewPipeline(store *ConversationStore, completion CompletionService, synthesis SynthesisService, artifacts ArtifactStore, cfg PipelineConfig) *Pipeline {
	if cfg.EscalationThreshold < 1 {
		cfg.EscalationThreshold = defaultEscalateAt
	}
	return &Pipeline{
		store:      store,
		completion: completion,
		synthesis:  synthesis,
		artifacts:  artifacts,
		cfg:        cfg,
	}
}

// InFlight reports whether a turn is running.
func (p *Pipeline) InFlight() bool {
	return p.inFlight.Load()
}

// Shutdown marks the owner as gone. Audio synthesized by a turn that
// finishes afterwards is released right away instead of being attached.
func (p *Pipeline) Shutdown() {
	p.shutdown.Store(true)
}

// FailureCount returns the number of consecutive failed turns.
func (p *Pipeline) FailureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Submit runs one turn for userText. Whitespace-only text is rejected;
// otherwise the text is recorded and sent exactly as given.
func (p *Pipeline) Submit(ctx context.Context, userText string) Outcome {
	if strings.TrimSpace(userText) == "" {
		return Outcome{Status: StatusRejected, FailureCount: p.FailureCount()}
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		return Outcome{Status: StatusBusy, FailureCount: p.FailureCount()}
	}
	defer p.inFlight.Store(false)

	userMsg, err := p.append(chat.Message{Role: chat.RoleUser, Content: userText})
	if err != nil {
		return Outcome{Status: StatusRejected, FailureCount: p.FailureCount(), Err: err}
	}

	var reply string
	if p.completion == nil {
		err = errNoCompletion
	} else {
		reply, err = p.completion.Complete(ctx, userText, p.cfg.SystemPrompt)
	}
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyReply
	}
	if err != nil {
		return p.fail(userMsg, err)
	}

	assistant := chat.Message{Role: chat.RoleAssistant, Content: reply}
	if ref, ok := p.synthesize(ctx, reply); ok {
		assistant.Audio = &ref
	}

	assistantMsg, err := p.append(assistant)
	if err != nil {
		return Outcome{Status: StatusCompleted, User: &userMsg, FailureCount: p.FailureCount(), Err: err}
	}

	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()

	return Outcome{Status: StatusCompleted, User: &userMsg, Assistant: &assistantMsg}
}

var (
	errEmptyReply   = errors.New("completion returned an empty reply")
	errNoCompletion = errors.New("no completion service configured")
)

func (p *Pipeline) fail(userMsg chat.Message, cause error) Outcome {
	log.Printf("[pipeline] completion failed owner=%s text=%q: %v", p.cfg.Owner, clip(userMsg.Content), cause)

	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	outcome := Outcome{Status: StatusFallback, User: &userMsg, FailureCount: failures, Err: cause}

	if fallback, err := p.append(chat.Message{Role: chat.RoleAssistant, Content: FallbackReply}); err == nil {
		outcome.Assistant = &fallback
	}

	p.notice(Notice{Level: NoticeTransient, Message: FailureNotice})
	if failures >= p.cfg.EscalationThreshold {
		outcome.Escalated = true
		p.notice(Notice{Level: NoticePersistent, Message: EscalationNotice})
	}
	return outcome
}

func (p *Pipeline) synthesize(ctx context.Context, text string) (chat.AudioRef, bool) {
	if p.synthesis == nil || p.artifacts == nil {
		return chat.AudioRef{}, false
	}

	audio, err := p.synthesis.Synthesize(ctx, text, p.cfg.Voice)
	if err != nil {
		log.Printf("[pipeline] warning: synthesis failed owner=%s: %v", p.cfg.Owner, err)
		p.notice(Notice{Level: NoticeWarning, Message: SynthesisNotice})
		return chat.AudioRef{}, false
	}
	if audio == nil || len(audio.Data) == 0 {
		log.Printf("[pipeline] warning: synthesis returned no audio owner=%s", p.cfg.Owner)
		p.notice(Notice{Level: NoticeWarning, Message: SynthesisNotice})
		return chat.AudioRef{}, false
	}

	decoded, err := artifact.Decode(audio.Data, audio.Format)
	if err != nil {
		log.Printf("[pipeline] warning: synthesized audio unreadable owner=%s: %v", p.cfg.Owner, err)
		p.notice(Notice{Level: NoticeWarning, Message: SynthesisNotice})
		return chat.AudioRef{}, false
	}

	ref := p.artifacts.Register(p.cfg.Owner, decoded)
	// Shutdown may have released the owner's artifacts while this turn was running
	if p.shutdown.Load() {
		released := p.artifacts.ReleaseOwner(p.cfg.Owner)
		log.Printf("[pipeline] owner=%s closed during turn, released %d artifact(s)", p.cfg.Owner, released)
		return chat.AudioRef{}, false
	}
	return ref, true
}

func (p *Pipeline) append(msg chat.Message) (chat.Message, error) {
	stored, err := p.store.Append(msg)
	if err != nil {
		log.Printf("[pipeline] append failed owner=%s: %v", p.cfg.Owner, err)
		return chat.Message{}, err
	}
	if p.onAppend != nil {
		p.onAppend(stored)
	}
	return stored, nil
}

func (p *Pipeline) notice(n Notice) {
	if p.onNotice != nil {
		p.onNotice(n)
	}
}

func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= maxLoggedTextRunes {
		return text
	}
	return string(runes[:maxLoggedTextRunes]) + "..."
}
