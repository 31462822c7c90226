// Package playback tracks the playback state of a single audio clip.
package playback

import (
	"fmt"
	"math"
	"sync"
)

// Media is the platform element that actually plays the clip.
type Media interface {
	Play() error
	Pause()
	SetCurrentTime(seconds float64)
}

// State is a point-in-time view of the controller.
type State struct {
	Playing  bool    `json:"playing"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Progress float64 `json:"progress"`
	Label    string  `json:"label"`
}

// Controller manages play/pause, seeking and time display for one clip.
type Controller struct {
	mu       sync.Mutex
	media    Media
	playing  bool
	position float64
	duration float64
	onChange func(State)
}

// NewController binds a controller to media. onChange may be nil.
func NewController(media Media, onChange func(State)) *Controller {
	return &Controller{media: media, onChange: onChange}
}

// TogglePlayPause pauses a playing clip or starts a paused one.
func (c *Controller) TogglePlayPause() error {
	c.mu.Lock()
	if c.playing {
		c.media.Pause()
		c.playing = false
	} else {
		if err := c.media.Play(); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("play failed: %w", err)
		}
		c.playing = true
	}
	state := c.stateLocked()
	c.mu.Unlock()

	c.notify(state)
	return nil
}

// Seek jumps to fraction of the duration. Fractions are clamped to [0,1];
// seeking does nothing while the duration is unknown.
func (c *Controller) Seek(fraction float64) {
	c.mu.Lock()
	if !known(c.duration) || math.IsNaN(fraction) {
		c.mu.Unlock()
		return
	}

	fraction = math.Max(0, math.Min(1, fraction))
	c.position = fraction * c.duration
	c.media.SetCurrentTime(c.position)
	state := c.stateLocked()
	c.mu.Unlock()

	c.notify(state)
}

// HandleLoadedMetadata records the duration once the media knows it.
func (c *Controller) HandleLoadedMetadata(duration float64) {
	c.mu.Lock()
	if known(duration) {
		c.duration = duration
	} else {
		c.duration = 0
	}
	state := c.stateLocked()
	c.mu.Unlock()

	c.notify(state)
}

// HandleTimeUpdate records the media's current position.
func (c *Controller) HandleTimeUpdate(position float64) {
	if math.IsNaN(position) || position < 0 {
		return
	}

	c.mu.Lock()
	c.position = position
	state := c.stateLocked()
	c.mu.Unlock()

	c.notify(state)
}

// HandleEnded marks natural completion. The position stays where it is.
func (c *Controller) HandleEnded() {
	c.mu.Lock()
	c.playing = false
	state := c.stateLocked()
	c.mu.Unlock()

	c.notify(state)
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Position returns the current position in seconds.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Duration returns the clip length in seconds, zero while unknown.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// TimeLabel renders the position as m:ss, or "0:00" while the duration is unknown.
func (c *Controller) TimeLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.labelLocked()
}

// DurationLabel renders the duration as m:ss, or "0:00" while unknown.
func (c *Controller) DurationLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !known(c.duration) {
		return FormatTime(0)
	}
	return FormatTime(c.duration)
}

// Progress returns position/duration, zero while the duration is unknown.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Controller) progressLocked() float64 {
	if !known(c.duration) {
		return 0
	}
	return math.Min(1, c.position/c.duration)
}

func (c *Controller) labelLocked() string {
	if !known(c.duration) {
		return FormatTime(0)
	}
	return FormatTime(c.position)
}

func (c *Controller) stateLocked() State {
	return State{
		Playing:  c.playing,
		Position: c.position,
		Duration: c.duration,
		Progress: c.progressLocked(),
		Label:    c.labelLocked(),
	}
}

func (c *Controller) notify(state State) {
	if c.onChange != nil {
		c.onChange(state)
	}
}

// FormatTime renders seconds as m:ss. Invalid values render as 0:00.
func FormatTime(seconds float64) string {
	if !known(seconds) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func known(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
