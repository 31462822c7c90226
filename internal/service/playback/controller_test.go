package playback

import (
	"errors"
	"math"
	"testing"
	"time"
)

type stubMedia struct {
	playErr error
	plays   int
	pauses  int
	seeks   []float64
}

func (m *stubMedia) Play() error {
	m.plays++
	return m.playErr
}

func (m *stubMedia) Pause() { m.pauses++ }

func (m *stubMedia) SetCurrentTime(s float64) { m.seeks = append(m.seeks, s) }

func TestFormatTime(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{5.9, "0:05"},
		{65, "1:05"},
		{600, "10:00"},
		{math.NaN(), "0:00"},
		{math.Inf(1), "0:00"},
		{-3, "0:00"},
	}
	for _, tc := range cases {
		if got := FormatTime(tc.in); got != tc.want {
			t.Fatalf("FormatTime(%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSeekIsNoopWhileDurationUnknown(t *testing.T) {
	media := &stubMedia{}
	c := NewController(media, nil)

	c.Seek(0.5)
	if len(media.seeks) != 0 || c.Position() != 0 {
		t.Fatal("seek must be ignored before metadata loads")
	}
	if c.TimeLabel() != "0:00" || c.Progress() != 0 {
		t.Fatalf("unexpected placeholder: %s %v", c.TimeLabel(), c.Progress())
	}

	c.HandleLoadedMetadata(math.NaN())
	c.Seek(0.5)
	if len(media.seeks) != 0 {
		t.Fatal("seek must be ignored for NaN duration")
	}
}

func TestSeekMapsAndClamps(t *testing.T) {
	media := &stubMedia{}
	c := NewController(media, nil)
	c.HandleLoadedMetadata(120)

	c.Seek(0.25)
	if c.Position() != 30 || c.TimeLabel() != "0:30" {
		t.Fatalf("unexpected position %v label %s", c.Position(), c.TimeLabel())
	}
	c.Seek(1.7)
	if c.Position() != 120 {
		t.Fatalf("expected clamp to duration, got %v", c.Position())
	}
	c.Seek(-1)
	if c.Position() != 0 {
		t.Fatalf("expected clamp to zero, got %v", c.Position())
	}
	if len(media.seeks) != 3 {
		t.Fatalf("expected 3 media seeks, got %d", len(media.seeks))
	}
	if c.DurationLabel() != "2:00" {
		t.Fatalf("unexpected duration label %s", c.DurationLabel())
	}
}

func TestToggleAndEnded(t *testing.T) {
	media := &stubMedia{}
	var last State
	c := NewController(media, func(s State) { last = s })
	c.HandleLoadedMetadata(10)

	if err := c.TogglePlayPause(); err != nil {
		t.Fatalf("toggle err: %v", err)
	}
	if !last.Playing || media.plays != 1 {
		t.Fatal("expected playing after first toggle")
	}

	c.HandleTimeUpdate(10)
	c.HandleEnded()
	state := c.State()
	if state.Playing || state.Position != 10 || state.Progress != 1 {
		t.Fatalf("unexpected state after end: %+v", state)
	}

	if err := c.TogglePlayPause(); err != nil {
		t.Fatalf("toggle err: %v", err)
	}
	if err := c.TogglePlayPause(); err != nil {
		t.Fatalf("toggle err: %v", err)
	}
	if media.pauses != 1 || c.State().Playing {
		t.Fatal("expected paused after second toggle")
	}
}

func TestTogglePlayFailureKeepsPaused(t *testing.T) {
	c := NewController(&stubMedia{playErr: errors.New("autoplay blocked")}, nil)
	if err := c.TogglePlayPause(); err == nil {
		t.Fatal("expected play error")
	}
	if c.State().Playing {
		t.Fatal("controller must stay paused when play fails")
	}
}

func TestHeadlessPlaythrough(t *testing.T) {
	media := NewHeadless(func() (float64, error) { return 3, nil })
	c := NewController(media, nil)
	media.Bind(c)

	if err := c.TogglePlayPause(); err != nil {
		t.Fatalf("toggle err: %v", err)
	}
	select {
	case <-media.Loaded():
	case <-time.After(time.Second):
		t.Fatal("metadata never loaded")
	}
	if c.Duration() != 3 {
		t.Fatalf("unexpected duration %v", c.Duration())
	}

	media.Advance(2 * time.Second)
	if c.TimeLabel() != "0:02" || !c.State().Playing {
		t.Fatalf("unexpected mid state %+v", c.State())
	}
	media.Advance(5 * time.Second)
	state := c.State()
	if state.Playing || state.Position != 3 {
		t.Fatalf("unexpected end state %+v", state)
	}

	// replay after natural end restarts the clip
	if err := c.TogglePlayPause(); err != nil {
		t.Fatalf("toggle err: %v", err)
	}
	media.Advance(time.Second)
	if c.Position() != 1 {
		t.Fatalf("expected restart from zero, got %v", c.Position())
	}
}

func TestHeadlessWithoutSource(t *testing.T) {
	media := NewHeadless(nil)
	c := NewController(media, nil)
	media.Bind(c)
	if err := c.TogglePlayPause(); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestRegistryAttach(t *testing.T) {
	reg := NewRegistry()
	var sent []Command
	build := func() *Controller {
		return NewController(NewRemote("m1", func(cmd Command) error {
			sent = append(sent, cmd)
			return nil
		}), nil)
	}

	a := reg.Attach("m1", build)
	b := reg.Attach("m1", build)
	if a != b || reg.Len() != 1 {
		t.Fatal("attach must reuse the existing controller")
	}

	a.HandleLoadedMetadata(8)
	_ = a.TogglePlayPause()
	a.Seek(0.5)
	if len(sent) != 2 || sent[0].Action != ActionPlay || sent[1].Action != ActionSeek || sent[1].Value != 4 {
		t.Fatalf("unexpected remote commands: %+v", sent)
	}

	reg.Remove("m1")
	if _, ok := reg.Get("m1"); ok {
		t.Fatal("controller should be removed")
	}
}
