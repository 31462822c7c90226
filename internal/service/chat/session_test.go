package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
	"github.com/zhouzirui/voice-chat/backend/internal/service/artifact"
	"github.com/zhouzirui/voice-chat/backend/internal/service/capture"
	chatservice "github.com/zhouzirui/voice-chat/backend/internal/service/chat"
)

type stubCompletion struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   []string
	gate    chan struct{}
}

func (s *stubCompletion) Complete(_ context.Context, message, _ string) (string, error) {
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, message)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx < len(s.replies) {
		return s.replies[idx], nil
	}
	return "ok", nil
}

func (s *stubCompletion) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type stubSynthesis struct {
	err   error
	calls int
}

func (s *stubSynthesis) Synthesize(_ context.Context, _, _ string) (*speech.Audio, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	pcm := make([]byte, 16000)
	return &speech.Audio{Data: artifact.EncodeWAV(pcm, 8000, 1), Format: "wav"}, nil
}

func newSession(completion chatservice.CompletionService, synthesis chatservice.SynthesisService, artifacts *artifact.Store) *chatservice.Session {
	deps := chatservice.Deps{
		Completion: completion,
		Synthesis:  synthesis,
		Voice:      "onyx",
	}
	if artifacts != nil {
		deps.Artifacts = artifacts
	}
	return chatservice.NewSession("s1", "default", deps)
}

func TestSubmitCompletesWithAudio(t *testing.T) {
	artifacts := artifact.NewStore("/api/audio")
	session := newSession(&stubCompletion{replies: []string{"Hi there"}}, &stubSynthesis{}, artifacts)

	outcome, err := session.SubmitText(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SubmitText err: %v", err)
	}
	if outcome.Status != chatservice.StatusCompleted {
		t.Fatalf("unexpected status %s", outcome.Status)
	}

	msgs := session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != chat.RoleUser || msgs[0].Content != "Hello" || msgs[0].HasAudio() {
		t.Fatalf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].Role != chat.RoleAssistant || msgs[1].Content != "Hi there" || !msgs[1].HasAudio() {
		t.Fatalf("unexpected assistant message %+v", msgs[1])
	}
	if msgs[1].Audio.DurationSeconds != 1 {
		t.Fatalf("unexpected audio duration %v", msgs[1].Audio.DurationSeconds)
	}
	if _, err := artifacts.Get(msgs[1].Audio.ID); err != nil {
		t.Fatalf("artifact should be live: %v", err)
	}
	if session.State() != chat.StateIdle {
		t.Fatalf("expected idle after turn, got %s", session.State())
	}
}

func TestSubmitFallbackOnCompletionFailure(t *testing.T) {
	synthesis := &stubSynthesis{}
	session := newSession(&stubCompletion{errs: []error{errors.New("HTTP 500")}}, synthesis, artifact.NewStore("/a"))
	events, cancel := session.Subscribe()
	defer cancel()

	outcome, err := session.SubmitText(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SubmitText err: %v", err)
	}
	if outcome.Status != chatservice.StatusFallback || outcome.FailureCount != 1 || outcome.Escalated {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	msgs := session.Messages()
	if len(msgs) != 2 || msgs[1].Content != chatservice.FallbackReply || msgs[1].HasAudio() {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if synthesis.calls != 0 {
		t.Fatal("synthesis must not run after a failed completion")
	}

	var notices []chatservice.Notice
	for len(events) > 0 {
		ev := <-events
		if ev.Type == chatservice.EventNotice {
			notices = append(notices, *ev.Notice)
		}
	}
	if len(notices) != 1 || notices[0].Message != chatservice.FailureNotice {
		t.Fatalf("unexpected notices %+v", notices)
	}
}

func TestEscalationAndReset(t *testing.T) {
	boom := errors.New("network down")
	completion := &stubCompletion{
		errs:    []error{boom, boom, boom, nil},
		replies: []string{"", "", "", "back online"},
	}
	session := newSession(completion, nil, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		outcome, _ := session.SubmitText(ctx, "ping")
		if outcome.FailureCount != i {
			t.Fatalf("attempt %d: failure count %d", i, outcome.FailureCount)
		}
		if outcome.Escalated != (i == 3) {
			t.Fatalf("attempt %d: escalated=%v", i, outcome.Escalated)
		}
	}

	outcome, _ := session.SubmitText(ctx, "ping")
	if outcome.Status != chatservice.StatusCompleted || session.Info().FailureCount != 0 {
		t.Fatalf("success must reset failures, got %+v", outcome)
	}
}

func TestSynthesisFailureIsNonFatal(t *testing.T) {
	session := newSession(&stubCompletion{replies: []string{"Olá"}}, &stubSynthesis{err: errors.New("quota")}, artifact.NewStore("/a"))

	outcome, _ := session.SubmitText(context.Background(), "Oi")
	if outcome.Status != chatservice.StatusCompleted || outcome.Assistant == nil || outcome.Assistant.HasAudio() {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if session.Info().FailureCount != 0 {
		t.Fatal("synthesis failure must not count as a turn failure")
	}
}

func TestMissingCompletionFallsBack(t *testing.T) {
	session := newSession(nil, nil, nil)

	outcome, err := session.SubmitText(context.Background(), "Oi")
	if err != nil || outcome.Status != chatservice.StatusFallback {
		t.Fatalf("unexpected result %+v %v", outcome, err)
	}
	if outcome.Assistant == nil || outcome.Assistant.Content != chatservice.FallbackReply {
		t.Fatalf("expected fallback reply, got %+v", outcome.Assistant)
	}
}

func TestEmptyInputRejected(t *testing.T) {
	completion := &stubCompletion{}
	session := newSession(completion, nil, nil)

	outcome, err := session.SubmitText(context.Background(), "   \n\t")
	if err != nil || outcome.Status != chatservice.StatusRejected {
		t.Fatalf("unexpected result %+v %v", outcome, err)
	}
	if len(session.Messages()) != 0 || len(completion.Calls()) != 0 {
		t.Fatal("empty input must not touch the conversation or the network")
	}
}

func TestSubmitWhileInFlightIsRefused(t *testing.T) {
	completion := &stubCompletion{gate: make(chan struct{})}
	session := newSession(completion, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = session.SubmitText(context.Background(), "first")
	}()
	waitFor(t, func() bool { return len(completion.Calls()) == 1 })

	if _, err := session.SubmitText(context.Background(), "second"); !errors.Is(err, chatservice.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(completion.gate)
	<-done
	if len(session.Messages()) != 2 {
		t.Fatalf("expected only the first turn, got %d messages", len(session.Messages()))
	}
}

func TestVoiceTranscriptQueueOfOne(t *testing.T) {
	completion := &stubCompletion{gate: make(chan struct{})}
	session := newSession(completion, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = session.SubmitText(context.Background(), "first")
	}()
	waitFor(t, func() bool { return len(completion.Calls()) == 1 })

	for _, text := range []string{"older", "latest"} {
		outcome, err := session.SubmitVoiceTranscript(context.Background(), text)
		if err != nil || outcome.Status != chatservice.StatusDeferred {
			t.Fatalf("expected deferral, got %+v %v", outcome, err)
		}
	}

	close(completion.gate)
	<-done
	session.Wait()

	calls := completion.Calls()
	if len(calls) != 2 || calls[1] != "latest" {
		t.Fatalf("expected only the latest transcript to run, got %v", calls)
	}
	msgs := session.Messages()
	if len(msgs) != 4 || msgs[2].Content != "latest" {
		t.Fatalf("unexpected conversation %+v", msgs)
	}
	if session.State() != chat.StateIdle {
		t.Fatalf("expected idle, got %s", session.State())
	}
}

func TestGreeting(t *testing.T) {
	completion := &stubCompletion{}
	session := newSession(completion, &stubSynthesis{}, artifact.NewStore("/a"))

	msg, err := session.InitializeWithGreeting("Olá! Como posso ajudar você hoje?")
	if err != nil {
		t.Fatalf("greeting err: %v", err)
	}
	if msg.Role != chat.RoleAssistant || msg.HasAudio() {
		t.Fatalf("unexpected greeting %+v", msg)
	}
	if len(completion.Calls()) != 0 {
		t.Fatal("greeting must not call the completion service")
	}
	if _, err := session.InitializeWithGreeting("again"); !errors.Is(err, chatservice.ErrAlreadySeeded) {
		t.Fatalf("expected ErrAlreadySeeded, got %v", err)
	}
	if _, err := newSession(completion, nil, nil).InitializeWithGreeting("  "); !errors.Is(err, chatservice.ErrEmptyGreeting) {
		t.Fatalf("expected ErrEmptyGreeting, got %v", err)
	}
}

type scriptedRecognizer struct {
	events chan capture.Event
}

func (r *scriptedRecognizer) Start(context.Context, string) (<-chan capture.Event, error) {
	return r.events, nil
}

func (r *scriptedRecognizer) Stop() {}

func TestVoiceCaptureSubmitsTranscriptOnce(t *testing.T) {
	completion := &stubCompletion{replies: []string{"Claro"}}
	rec := &scriptedRecognizer{events: make(chan capture.Event, 4)}
	session := chatservice.NewSession("s1", "default", chatservice.Deps{
		Completion: completion,
		Capability: capture.CapabilityFunc(func() (capture.Recognizer, error) { return rec, nil }),
		Language:   "en-US",
	})

	if err := session.StartVoice(context.Background()); err != nil {
		t.Fatalf("StartVoice err: %v", err)
	}
	rec.events <- capture.Event{Kind: capture.EventPartial, Text: "book a"}
	rec.events <- capture.Event{Kind: capture.EventFinal, Text: "book a flight"}
	rec.events <- capture.Event{Kind: capture.EventEnd}

	waitFor(t, func() bool { return len(completion.Calls()) == 1 })
	session.Wait()

	calls := completion.Calls()
	if len(calls) != 1 || calls[0] != "book a flight" {
		t.Fatalf("unexpected submissions %v", calls)
	}
	if session.Info().VoiceCapturing {
		t.Fatal("capture should have ended")
	}
}

func TestStartVoiceUnsupported(t *testing.T) {
	session := newSession(&stubCompletion{}, nil, nil)
	if err := session.StartVoice(context.Background()); !errors.Is(err, capture.ErrUnsupportedCapability) {
		t.Fatalf("expected ErrUnsupportedCapability, got %v", err)
	}
	if session.Capture().LastError != capture.UnsupportedMessage {
		t.Fatalf("unexpected capture error %q", session.Capture().LastError)
	}

	events, _ := session.Subscribe()
	session.StopVoice()
	select {
	case ev := <-events:
		t.Fatalf("stop without capture must be silent, got %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	if session.Info().VoiceCapturing {
		t.Fatal("capture must stay inactive")
	}
}

func TestCloseReleasesArtifacts(t *testing.T) {
	artifacts := artifact.NewStore("/api/audio")
	session := newSession(&stubCompletion{replies: []string{"Hi"}}, &stubSynthesis{}, artifacts)
	events, _ := session.Subscribe()

	outcome, _ := session.SubmitText(context.Background(), "Hello")
	session.Close()

	if _, err := artifacts.Get(outcome.Assistant.Audio.ID); !errors.Is(err, artifact.ErrReleased) {
		t.Fatalf("expected artifact released, got %v", err)
	}
	if _, err := session.SubmitText(context.Background(), "again"); !errors.Is(err, chatservice.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	// drain; the channel must be closed
	for range events {
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseDuringTurnReleasesLateAudio(t *testing.T) {
	artifacts := artifact.NewStore("/api/audio")
	completion := &stubCompletion{replies: []string{"tarde demais"}, gate: make(chan struct{})}
	session := newSession(completion, &stubSynthesis{}, artifacts)

	done := make(chan chatservice.Outcome, 1)
	go func() {
		outcome, _ := session.SubmitText(context.Background(), "Hello")
		done <- outcome
	}()
	waitFor(t, func() bool { return len(completion.Calls()) == 1 })

	session.Close()
	close(completion.gate)

	var outcome chatservice.Outcome
	select {
	case outcome = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never finished")
	}

	if live := artifacts.Live(); live != 0 {
		t.Fatalf("expected no live artifacts after close, got %d", live)
	}
	if outcome.Assistant != nil && outcome.Assistant.HasAudio() {
		t.Fatalf("reply finished after close must not carry audio: %+v", outcome.Assistant)
	}
}

func TestSubmitKeepsUserTextVerbatim(t *testing.T) {
	completion := &stubCompletion{replies: []string{"ok"}}
	session := newSession(completion, nil, nil)

	raw := "  olá,\n  tudo bem?  "
	outcome, err := session.SubmitText(context.Background(), raw)
	if err != nil {
		t.Fatalf("SubmitText err: %v", err)
	}
	if outcome.User == nil || outcome.User.Content != raw {
		t.Fatalf("user message altered: %+v", outcome.User)
	}
	if calls := completion.Calls(); len(calls) != 1 || calls[0] != raw {
		t.Fatalf("completion got %q, want %q", calls, raw)
	}

	if _, err := session.SubmitVoiceTranscript(context.Background(), " por voz "); err != nil {
		t.Fatalf("SubmitVoiceTranscript err: %v", err)
	}
	if msgs := session.Messages(); msgs[2].Content != " por voz " {
		t.Fatalf("transcript altered: %q", msgs[2].Content)
	}
}
