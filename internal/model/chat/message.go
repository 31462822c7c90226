package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AudioRef is a revocable handle to a synthesized audio artifact.
type AudioRef struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	Format          string  `json:"format"`
	ContentType     string  `json:"contentType"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Message is one immutable conversation entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Audio     *AudioRef `json:"audio,omitempty"`
}

// HasAudio reports whether the message carries an audio reference.
func (m Message) HasAudio() bool {
	return m.Audio != nil && m.Audio.ID != ""
}
