package capture

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

// Commands sent to a remote recognizer host.
const (
	CommandStart = "start"
	CommandStop  = "stop"
)

var errRecognizerBusy = errors.New("recognizer already running")

const remoteEventBuffer = 32

// CommandFunc delivers a recognizer command to the remote host.
type CommandFunc func(command, language string) error

// RemoteRecognizer is driven by a recognizer running on the visitor's
// browser. Commands flow out through send; events flow back through Feed.
type RemoteRecognizer struct {
	send CommandFunc

	mu     sync.Mutex
	events chan Event
	done   chan struct{}
}

// NewRemoteRecognizer creates a recognizer that forwards commands via send.
func NewRemoteRecognizer(send CommandFunc) *RemoteRecognizer {
	return &RemoteRecognizer{send: send}
}

// Start implements Recognizer.
func (r *RemoteRecognizer) Start(ctx context.Context, language string) (<-chan Event, error) {
	r.mu.Lock()
	if r.events != nil {
		r.mu.Unlock()
		return nil, errRecognizerBusy
	}
	events := make(chan Event, remoteEventBuffer)
	done := make(chan struct{})
	r.events = events
	r.done = done
	r.mu.Unlock()

	if err := r.send(CommandStart, language); err != nil {
		r.closeChannel(events)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			r.closeChannel(events)
		case <-done:
		}
	}()

	return events, nil
}

// Stop implements Recognizer. The remote host answers with an end event.
func (r *RemoteRecognizer) Stop() {
	r.mu.Lock()
	running := r.events != nil
	r.mu.Unlock()

	if !running {
		return
	}
	if err := r.send(CommandStop, ""); err != nil {
		log.Printf("[capture] failed to send stop command: %v", err)
		r.Close()
	}
}

// Feed delivers an event reported by the remote host. It returns false
// when no recognition is running.
func (r *RemoteRecognizer) Feed(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.events == nil {
		return false
	}

	select {
	case r.events <- ev:
	default:
		log.Printf("[capture] dropping %s event, buffer full", ev.Kind)
	}

	if ev.Kind == EventEnd || ev.Kind == EventError {
		r.endLocked()
	}
	return true
}

// Close ends any running recognition, e.g. when the host disconnects or
// the capture gave up waiting for the end event.
func (r *RemoteRecognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events != nil {
		r.endLocked()
	}
}

func (r *RemoteRecognizer) closeChannel(events chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == events {
		r.endLocked()
	}
}

// endLocked closes the current run's channels. Caller holds r.mu and has
// checked that a run exists.
func (r *RemoteRecognizer) endLocked() {
	close(r.events)
	close(r.done)
	r.events = nil
	r.done = nil
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req speech.TranscriptionRequest) (string, error)
}

// WhisperRecognizer records audio chunks while active and transcribes the
// whole recording once stopped. It serves hosts without live recognition.
type WhisperRecognizer struct {
	transcriber Transcriber

	mu       sync.Mutex
	ctx      context.Context
	language string
	format   string
	buffer   bytes.Buffer
	events   chan Event
}

// NewWhisperRecognizer creates a recording recognizer backed by transcriber.
func NewWhisperRecognizer(transcriber Transcriber) *WhisperRecognizer {
	return &WhisperRecognizer{transcriber: transcriber, format: "webm"}
}

// Start implements Recognizer.
func (w *WhisperRecognizer) Start(ctx context.Context, language string) (<-chan Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.events != nil {
		return nil, errRecognizerBusy
	}

	w.ctx = ctx
	w.language = language
	w.buffer.Reset()
	w.events = make(chan Event, 4)
	w.events <- Event{Kind: EventStart}
	return w.events, nil
}

// Write appends a recorded audio chunk. Chunks outside a session are discarded.
func (w *WhisperRecognizer) Write(chunk []byte, format string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.events == nil {
		return
	}
	if format != "" {
		w.format = strings.ToLower(format)
	}
	w.buffer.Write(chunk)
}

// FlushesOnStop implements Flusher: after Stop the recording is uploaded
// and transcribed, which ends the run on its own.
func (w *WhisperRecognizer) FlushesOnStop() bool { return true }

// Close discards a recording that was never stopped.
func (w *WhisperRecognizer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.events == nil {
		return
	}
	close(w.events)
	w.events = nil
	w.buffer.Reset()
}

// Stop implements Recognizer. Transcription runs in the background and
// finishes with final (when any text was heard) and end events.
func (w *WhisperRecognizer) Stop() {
	w.mu.Lock()
	events := w.events
	if events == nil {
		w.mu.Unlock()
		return
	}
	w.events = nil
	ctx := w.ctx
	req := speech.TranscriptionRequest{
		AudioData: append([]byte(nil), w.buffer.Bytes()...),
		Format:    w.format,
		Language:  w.language,
	}
	w.buffer.Reset()
	w.mu.Unlock()

	go func() {
		defer close(events)

		if len(req.AudioData) == 0 {
			events <- Event{Kind: EventError, Code: "no-speech"}
			return
		}

		text, err := w.transcriber.Transcribe(ctx, req)
		if err != nil {
			log.Printf("[capture] transcription failed: %v", err)
			events <- Event{Kind: EventError, Code: "network"}
			return
		}
		if text = strings.TrimSpace(text); text != "" {
			events <- Event{Kind: EventFinal, Text: text}
		}
		events <- Event{Kind: EventEnd}
	}()
}
