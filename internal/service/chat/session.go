package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/service/capture"
)

var (
	ErrTurnInFlight  = errors.New("a response is still being generated")
	ErrAlreadySeeded = errors.New("conversation already started")
	ErrEmptyGreeting = errors.New("greeting text is empty")
	ErrSessionClosed = errors.New("session closed")
)

// Deps are the collaborators a session is built from.
type Deps struct {
	Completion          CompletionService
	Synthesis           SynthesisService
	Artifacts           ArtifactStore
	Capability          capture.Capability
	Voice               string
	SystemPrompt        string
	Language            string
	EscalationThreshold int
}

// Session is one widget conversation: the message log, the turn state
// machine and the voice capture that feeds it.
type Session struct {
	id        string
	profileID string
	createdAt time.Time

	store     *ConversationStore
	pipeline  *Pipeline
	capture   *capture.Capture
	artifacts ArtifactStore
	events    *bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   chat.State
	pending *string
	closed  bool
}

// NewSession builds an idle session with an empty conversation.
func NewSession(id, profileID string, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		profileID: profileID,
		createdAt: time.Now().UTC(),
		store:     NewConversationStore(),
		artifacts: deps.Artifacts,
		events:    newBus(),
		ctx:       ctx,
		cancel:    cancel,
		state:     chat.StateIdle,
	}

	s.pipeline = NewPipeline(s.store, deps.Completion, deps.Synthesis, deps.Artifacts, PipelineConfig{
		Owner:               id,
		SystemPrompt:        deps.SystemPrompt,
		Voice:               deps.Voice,
		EscalationThreshold: deps.EscalationThreshold,
	})
	s.pipeline.onAppend = func(msg chat.Message) {
		s.publish(Event{Type: EventMessage, Message: &msg})
	}
	s.pipeline.onNotice = func(n Notice) {
		s.publish(Event{Type: EventNotice, Notice: &n})
	}

	s.capture = capture.New(deps.Capability, deps.Language, capture.Listener{
		OnUpdate: func(snapshot capture.Session) {
			s.publish(Event{Type: EventCapture, Capture: &snapshot})
			if snapshot.Active {
				s.publish(Event{Type: EventTranscript, Transcript: snapshot.Transcript()})
			}
		},
		OnError: func(message string) {
			s.publish(Event{Type: EventNotice, Notice: &Notice{Level: NoticeTransient, Message: message}})
		},
		OnTranscript: s.routeTranscript,
	})

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ProfileID returns the widget profile the session was created for.
func (s *Session) ProfileID() string { return s.profileID }

// Info summarizes the session.
func (s *Session) Info() chat.SessionInfo {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	return chat.SessionInfo{
		ID:             s.id,
		ProfileID:      s.profileID,
		State:          state,
		VoiceCapturing: s.capture.Active(),
		FailureCount:   s.pipeline.FailureCount(),
		CreatedAt:      s.createdAt,
	}
}

// State returns the turn state.
func (s *Session) State() chat.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns the conversation so far.
func (s *Session) Messages() []chat.Message {
	return s.store.List()
}

// Capture returns the voice capture state.
func (s *Session) Capture() capture.Session {
	return s.capture.Snapshot()
}

// Subscribe returns a stream of session events and a cancel function.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// InitializeWithGreeting seeds an empty conversation with one assistant
// message. No completion or synthesis is involved.
func (s *Session) InitializeWithGreeting(text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrEmptyGreeting
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return chat.Message{}, ErrSessionClosed
	}
	if s.state != chat.StateIdle || s.store.Len() > 0 {
		return chat.Message{}, ErrAlreadySeeded
	}

	msg, err := s.store.Append(chat.Message{Role: chat.RoleAssistant, Content: text})
	if err != nil {
		return chat.Message{}, err
	}
	s.events.publish(Event{Type: EventMessage, SessionID: s.id, Message: &msg})
	return msg, nil
}

// SubmitText runs a turn for typed text. Submission is refused while a
// previous turn is still awaiting its response.
func (s *Session) SubmitText(ctx context.Context, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{Status: StatusRejected, FailureCount: s.pipeline.FailureCount()}, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrSessionClosed
	}
	if s.state == chat.StateAwaitingResponse {
		s.mu.Unlock()
		return Outcome{Status: StatusBusy, FailureCount: s.pipeline.FailureCount()}, ErrTurnInFlight
	}
	s.state = chat.StateAwaitingResponse
	s.mu.Unlock()

	s.publishState(chat.StateAwaitingResponse)
	return s.runTurn(ctx, text), nil
}

// SubmitVoiceTranscript runs a turn for a recognized utterance. While a
// turn is in flight the transcript is held back, replacing any transcript
// already waiting, and submitted once the running turn completes.
func (s *Session) SubmitVoiceTranscript(ctx context.Context, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{Status: StatusRejected, FailureCount: s.pipeline.FailureCount()}, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrSessionClosed
	}
	if s.state == chat.StateAwaitingResponse {
		s.pending = &text
		s.mu.Unlock()
		return Outcome{Status: StatusDeferred, FailureCount: s.pipeline.FailureCount()}, nil
	}
	s.state = chat.StateAwaitingResponse
	s.mu.Unlock()

	s.publishState(chat.StateAwaitingResponse)
	return s.runTurn(ctx, text), nil
}

// runTurn submits text and then either drains the held-back transcript or
// returns the session to idle.
func (s *Session) runTurn(ctx context.Context, text string) Outcome {
	outcome := s.pipeline.Submit(ctx, text)

	s.mu.Lock()
	next := s.pending
	s.pending = nil
	if next == nil || s.closed {
		s.state = chat.StateIdle
		s.mu.Unlock()
		s.publishState(chat.StateIdle)
		return outcome
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runTurn(s.ctx, *next)
	}()
	return outcome
}

// StartVoice begins voice capture. A final transcript is submitted
// automatically when capture ends.
func (s *Session) StartVoice(_ context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return s.capture.Start(s.ctx)
}

// StopVoice ends voice capture. It is allowed in any turn state and does
// nothing when no capture is running.
func (s *Session) StopVoice() {
	s.capture.Stop()
}

// SetCapability changes how future voice captures are recognized.
func (s *Session) SetCapability(capability capture.Capability) {
	s.capture.SetCapability(capability)
}

// SetLanguage changes the recognition language of future voice captures.
func (s *Session) SetLanguage(language string) {
	if language != "" {
		s.capture.SetLanguage(language)
	}
}

func (s *Session) routeTranscript(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.publish(Event{Type: EventTranscript, Transcript: text})

	go func() {
		defer s.wg.Done()
		if _, err := s.SubmitVoiceTranscript(s.ctx, text); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.publish(Event{Type: EventNotice, Notice: &Notice{Level: NoticeTransient, Message: FailureNotice}})
		}
	}()
}

// Wait blocks until background turns started by voice capture finish.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close stops capture, abandons queued work, releases the session's audio
// and ends all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.capture.Stop()
	s.cancel()
	s.wg.Wait()

	s.pipeline.Shutdown()
	if s.artifacts != nil {
		s.artifacts.ReleaseOwner(s.id)
	}
	s.events.close()
}

func (s *Session) publishState(state chat.State) {
	s.publish(Event{Type: EventState, State: state})
}

func (s *Session) publish(ev Event) {
	ev.SessionID = s.id
	s.events.publish(ev)
}
