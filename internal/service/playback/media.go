package playback

import (
	"errors"
	"sync"
	"time"
)

var ErrNoSource = errors.New("media has no playable source")

// MetadataFunc resolves the clip duration in seconds.
type MetadataFunc func() (float64, error)

// Headless simulates a media element without an audio device. Duration is
// resolved asynchronously and time moves only through Advance.
type Headless struct {
	mu       sync.Mutex
	ctrl     *Controller
	metadata MetadataFunc
	loaded   chan struct{}
	duration float64
	position float64
	playing  bool
}

// NewHeadless creates a headless element whose metadata comes from fn.
func NewHeadless(fn MetadataFunc) *Headless {
	return &Headless{metadata: fn, loaded: make(chan struct{})}
}

// Bind attaches the controller and starts loading metadata.
func (h *Headless) Bind(ctrl *Controller) {
	h.mu.Lock()
	h.ctrl = ctrl
	h.mu.Unlock()

	go func() {
		defer close(h.loaded)
		if h.metadata == nil {
			return
		}
		duration, err := h.metadata()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.duration = duration
		h.mu.Unlock()
		ctrl.HandleLoadedMetadata(duration)
	}()
}

// Loaded is closed once metadata loading finished.
func (h *Headless) Loaded() <-chan struct{} {
	return h.loaded
}

// Play implements Media. Playing a finished clip restarts it.
func (h *Headless) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.metadata == nil {
		return ErrNoSource
	}
	if h.duration > 0 && h.position >= h.duration {
		h.position = 0
	}
	h.playing = true
	return nil
}

// Pause implements Media.
func (h *Headless) Pause() {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
}

// SetCurrentTime implements Media.
func (h *Headless) SetCurrentTime(seconds float64) {
	h.mu.Lock()
	h.position = seconds
	h.mu.Unlock()
}

// Advance moves a playing clip forward by d and reports time updates and
// the natural end to the bound controller.
func (h *Headless) Advance(d time.Duration) {
	h.mu.Lock()
	if !h.playing || h.ctrl == nil {
		h.mu.Unlock()
		return
	}
	h.position += d.Seconds()
	ended := h.duration > 0 && h.position >= h.duration
	if ended {
		h.position = h.duration
		h.playing = false
	}
	position, ctrl := h.position, h.ctrl
	h.mu.Unlock()

	ctrl.HandleTimeUpdate(position)
	if ended {
		ctrl.HandleEnded()
	}
}

// Command is a media instruction for a remote player.
type Command struct {
	MessageID string  `json:"messageId"`
	Action    string  `json:"action"`
	Value     float64 `json:"value,omitempty"`
}

// Remote media actions.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionSeek  = "seek"
)

// Remote forwards media instructions to a player running elsewhere, such
// as the visitor's browser. The player reports back through the controller.
type Remote struct {
	messageID string
	send      func(Command) error
}

// NewRemote creates remote media for the clip attached to messageID.
func NewRemote(messageID string, send func(Command) error) *Remote {
	return &Remote{messageID: messageID, send: send}
}

// Play implements Media.
func (r *Remote) Play() error {
	return r.send(Command{MessageID: r.messageID, Action: ActionPlay})
}

// Pause implements Media.
func (r *Remote) Pause() {
	_ = r.send(Command{MessageID: r.messageID, Action: ActionPause})
}

// SetCurrentTime implements Media.
func (r *Remote) SetCurrentTime(seconds float64) {
	_ = r.send(Command{MessageID: r.messageID, Action: ActionSeek, Value: seconds})
}

// Registry keeps one controller per rendered audio message.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Attach returns the controller for messageID, creating it with build when absent.
func (r *Registry) Attach(messageID string, build func() *Controller) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctrl, ok := r.controllers[messageID]; ok {
		return ctrl
	}
	ctrl := build()
	r.controllers[messageID] = ctrl
	return ctrl
}

// Get looks up a controller.
func (r *Registry) Get(messageID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctrl, ok := r.controllers[messageID]
	return ctrl, ok
}

// Remove forgets a controller.
func (r *Registry) Remove(messageID string) {
	r.mu.Lock()
	delete(r.controllers, messageID)
	r.mu.Unlock()
}

// Len reports the number of tracked controllers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}
