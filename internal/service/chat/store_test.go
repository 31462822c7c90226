package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
)

func TestConversationStoreAppend(t *testing.T) {
	store := NewConversationStore()
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	first, err := store.Append(chat.Message{Role: chat.RoleUser, Content: "Hello"})
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if first.ID == "" || !first.Timestamp.Equal(fixed) {
		t.Fatalf("expected generated id and timestamp, got %+v", first)
	}

	if _, err := store.Append(chat.Message{ID: first.ID, Role: chat.RoleAssistant}); !errors.Is(err, ErrDuplicateMessageID) {
		t.Fatalf("expected ErrDuplicateMessageID, got %v", err)
	}

	if _, err := store.Append(chat.Message{ID: "m2", Role: chat.RoleAssistant, Content: "Hi"}); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	list := store.List()
	if len(list) != 2 || list[0].Content != "Hello" || list[1].ID != "m2" {
		t.Fatalf("unexpected order %+v", list)
	}

	// the returned slice is a copy
	list[0].Content = "mutated"
	if store.List()[0].Content != "Hello" {
		t.Fatal("List must not expose internal state")
	}
}

func TestConversationStoreCopiesAudioRef(t *testing.T) {
	store := NewConversationStore()
	ref := &chat.AudioRef{ID: "a1"}

	if _, err := store.Append(chat.Message{Role: chat.RoleAssistant, Audio: ref}); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	ref.ID = "changed"
	if store.List()[0].Audio.ID != "a1" {
		t.Fatal("stored message must not alias the caller's audio ref")
	}
}
