// Package capture implements the speech capture state machine. Recognition
// itself happens elsewhere (the visitor's browser or a transcription API);
// this package only tracks the session lifecycle and routes transcripts.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// User-visible capture messages.
const (
	UnsupportedMessage = "Seu navegador não suporta reconhecimento de voz."
	ErrorMessageFormat = "Erro no reconhecimento de voz: %s"
)

const defaultStopGrace = 10 * time.Second

var (
	ErrUnsupportedCapability = errors.New("speech recognition is not supported")
	ErrAlreadyActive         = errors.New("speech capture already active")
)

// EventKind enumerates recognizer signals.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventPartial EventKind = "partial"
	EventFinal   EventKind = "final"
	EventError   EventKind = "error"
	EventEnd     EventKind = "end"
)

// Event is one signal emitted by a Recognizer.
type Event struct {
	Kind EventKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	Code string    `json:"code,omitempty"`
}

// Recognizer produces recognition events until it ends, fails or its
// channel is closed. Stop asks it to flush pending results and finish.
type Recognizer interface {
	Start(ctx context.Context, language string) (<-chan Event, error)
	Stop()
}

// Closer is implemented by recognizers that keep a run open until they are
// told to drop it. The capture closes the recognizer whenever a session
// ends, so a host that never answers Stop cannot block the next Start.
type Closer interface {
	Close()
}

// Flusher is implemented by recognizers whose Stop starts work that ends
// the run by itself, such as transcribing a recording. The stop grace
// period does not apply to them.
type Flusher interface {
	FlushesOnStop() bool
}

// Capability reports whether speech recognition is available and builds
// a recognizer when it is.
type Capability interface {
	NewRecognizer() (Recognizer, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func() (Recognizer, error)

// NewRecognizer implements Capability.
func (f CapabilityFunc) NewRecognizer() (Recognizer, error) {
	return f()
}

// Unsupported is the capability of hosts without speech recognition.
var Unsupported Capability = CapabilityFunc(func() (Recognizer, error) {
	return nil, ErrUnsupportedCapability
})

// Session is the observable state of the capture.
type Session struct {
	Active            bool   `json:"active"`
	PartialTranscript string `json:"partialTranscript"`
	FinalTranscript   string `json:"finalTranscript"`
	LastError         string `json:"lastError,omitempty"`
}

// Transcript is the best available text: the final result, else the last interim one.
func (s Session) Transcript() string {
	if s.FinalTranscript != "" {
		return s.FinalTranscript
	}
	return s.PartialTranscript
}

// Listener receives capture notifications. Nil callbacks are skipped.
type Listener struct {
	OnUpdate     func(Session)
	OnError      func(message string)
	OnEnd        func()
	OnTranscript func(text string)
}

type run struct {
	recognizer Recognizer
	once       sync.Once
	done       chan struct{}
}

// Capture owns at most one active recognition session.
type Capture struct {
	mu         sync.Mutex
	capability Capability
	language   string
	listener   Listener
	state      Session
	current    *run
	stopGrace  time.Duration
}

// Option customizes a Capture.
type Option func(*Capture)

// WithStopGrace bounds how long Stop waits for the recognizer to flush
// before the session is ended regardless.
func WithStopGrace(d time.Duration) Option {
	return func(c *Capture) {
		if d > 0 {
			c.stopGrace = d
		}
	}
}

// New creates a capture bound to a capability and language.
func New(capability Capability, language string, listener Listener, opts ...Option) *Capture {
	if capability == nil {
		capability = Unsupported
	}
	c := &Capture{
		capability: capability,
		language:   language,
		listener:   listener,
		stopGrace:  defaultStopGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCapability swaps the recognition capability for future sessions.
func (c *Capture) SetCapability(capability Capability) {
	if capability == nil {
		capability = Unsupported
	}
	c.mu.Lock()
	c.capability = capability
	c.mu.Unlock()
}

// SetLanguage changes the recognition language for future sessions.
func (c *Capture) SetLanguage(language string) {
	c.mu.Lock()
	c.language = language
	c.mu.Unlock()
}

// Snapshot returns the current capture state.
func (c *Capture) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a session is running.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active
}

// Start begins a capture session.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Active {
		c.mu.Unlock()
		return ErrAlreadyActive
	}

	recognizer, err := c.capability.NewRecognizer()
	if err != nil || recognizer == nil {
		c.state.LastError = UnsupportedMessage
		snapshot := c.state
		c.mu.Unlock()

		c.notifyError(UnsupportedMessage)
		c.notifyUpdate(snapshot)
		return ErrUnsupportedCapability
	}

	events, err := recognizer.Start(ctx, c.language)
	if err != nil {
		message := fmt.Sprintf(ErrorMessageFormat, err.Error())
		c.state.LastError = message
		snapshot := c.state
		c.mu.Unlock()

		c.notifyError(message)
		c.notifyUpdate(snapshot)
		return fmt.Errorf("failed to start recognizer: %w", err)
	}

	r := &run{recognizer: recognizer, done: make(chan struct{})}
	c.current = r
	c.state = Session{Active: true}
	snapshot := c.state
	c.mu.Unlock()

	c.notifyUpdate(snapshot)
	go c.pump(r, events)
	return nil
}

// Stop ends the active session. The recognizer gets a grace period to
// deliver its last result, unless it flushes on its own; it is a no-op
// when nothing is active.
func (c *Capture) Stop() {
	c.mu.Lock()
	r := c.current
	grace := c.stopGrace
	c.mu.Unlock()

	if r == nil {
		return
	}

	r.recognizer.Stop()

	if f, ok := r.recognizer.(Flusher); ok && f.FlushesOnStop() {
		return
	}

	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-r.done:
		case <-timer.C:
			log.Printf("[capture] recognizer did not finish within %s, ending session", grace)
			c.finish(r)
		}
	}()
}

func (c *Capture) pump(r *run, events <-chan Event) {
	for ev := range events {
		if !c.apply(r, ev) {
			c.finish(r)
			return
		}
	}
	c.finish(r)
}

// apply folds one event into the state and reports whether the session continues.
func (c *Capture) apply(r *run, ev Event) bool {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return false
	}

	var errMessage string
	keepGoing := true

	switch ev.Kind {
	case EventStart:
	case EventPartial:
		c.state.PartialTranscript = ev.Text
	case EventFinal:
		c.state.FinalTranscript = ev.Text
		c.state.PartialTranscript = ev.Text
	case EventError:
		code := ev.Code
		if code == "" {
			code = "unknown"
		}
		errMessage = fmt.Sprintf(ErrorMessageFormat, code)
		c.state.LastError = errMessage
		keepGoing = false
	case EventEnd:
		keepGoing = false
	default:
		c.mu.Unlock()
		log.Printf("[capture] ignoring unknown event kind %q", ev.Kind)
		return true
	}

	snapshot := c.state
	c.mu.Unlock()

	if errMessage != "" {
		log.Printf("[capture] recognition error: %s", ev.Code)
		c.notifyError(errMessage)
	}
	c.notifyUpdate(snapshot)
	return keepGoing
}

func (c *Capture) finish(r *run) {
	r.once.Do(func() {
		defer close(r.done)

		c.mu.Lock()
		if c.current != r {
			c.mu.Unlock()
			return
		}
		c.current = nil
		c.state.Active = false
		transcript := c.state.Transcript()
		snapshot := c.state
		if closer, ok := r.recognizer.(Closer); ok {
			closer.Close()
		}
		c.mu.Unlock()

		c.notifyUpdate(snapshot)
		if c.listener.OnEnd != nil {
			c.listener.OnEnd()
		}
		if transcript != "" && c.listener.OnTranscript != nil {
			c.listener.OnTranscript(transcript)
		}
	})
}

func (c *Capture) notifyUpdate(s Session) {
	if c.listener.OnUpdate != nil {
		c.listener.OnUpdate(s)
	}
}

func (c *Capture) notifyError(message string) {
	if c.listener.OnError != nil {
		c.listener.OnError(message)
	}
}
