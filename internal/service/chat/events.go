package chat

import (
	"log"
	"sync"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/service/capture"
)

// EventType names a session event.
type EventType string

const (
	EventMessage    EventType = "message"
	EventState      EventType = "state"
	EventTranscript EventType = "transcript"
	EventCapture    EventType = "capture"
	EventNotice     EventType = "notice"
)

// NoticeLevel classifies a user-facing diagnostic.
type NoticeLevel string

const (
	NoticeTransient  NoticeLevel = "transient"
	NoticeWarning    NoticeLevel = "warning"
	NoticePersistent NoticeLevel = "persistent"
)

// Notice is a diagnostic shown outside the conversation, e.g. as a toast.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Event is what subscribers of a session receive.
type Event struct {
	Type       EventType        `json:"type"`
	SessionID  string           `json:"sessionId"`
	Message    *chat.Message    `json:"message,omitempty"`
	State      chat.State       `json:"state,omitempty"`
	Transcript string           `json:"transcript,omitempty"`
	Capture    *capture.Session `json:"capture,omitempty"`
	Notice     *Notice          `json:"notice,omitempty"`
}

const subscriberBuffer = 64

// bus fans session events out to subscribers without blocking the publisher.
type bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("[session] subscriber %d lagging, dropped %s event", id, ev.Type)
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
