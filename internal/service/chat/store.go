package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
)

var ErrDuplicateMessageID = errors.New("message id already exists")

// ConversationStore is the append-only, ordered message log of one session.
type ConversationStore struct {
	mu       sync.RWMutex
	messages []chat.Message
	ids      map[string]struct{}
	now      func() time.Time
}

// NewConversationStore creates an empty conversation.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		messages: make([]chat.Message, 0, 16),
		ids:      make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Append adds msg at the end of the conversation and returns the stored copy.
func (s *ConversationStore) Append(msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if msg.Audio != nil {
		ref := *msg.Audio
		msg.Audio = &ref
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[msg.ID]; exists {
		return chat.Message{}, ErrDuplicateMessageID
	}
	s.ids[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// List returns the conversation in insertion order.
func (s *ConversationStore) List() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Len reports the number of messages.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
