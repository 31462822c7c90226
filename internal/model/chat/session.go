package chat

import "time"

// State is the turn state of a chat session.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
)

// SessionInfo is the externally visible summary of a widget session.
type SessionInfo struct {
	ID             string    `json:"id"`
	ProfileID      string    `json:"profileId"`
	State          State     `json:"state"`
	VoiceCapturing bool      `json:"voiceCapturing"`
	FailureCount   int       `json:"failureCount"`
	CreatedAt      time.Time `json:"createdAt"`
}
