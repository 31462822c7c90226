package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
	"github.com/zhouzirui/voice-chat/backend/internal/model/profile"
)

var (
	ErrProfileRequired = errors.New("profile id is required")
	ErrProfileNotFound = errors.New("profile not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Service keeps the live widget sessions in memory.
type Service struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	profiles       profile.Store
	base           Deps
	defaultProfile string
}

// NewService creates a session registry. base supplies the collaborators
// shared by every session; profiles supply the per-widget settings.
func NewService(profiles profile.Store, base Deps, defaultProfile string) *Service {
	return &Service{
		sessions:       make(map[string]*Session),
		profiles:       profiles,
		base:           base,
		defaultProfile: defaultProfile,
	}
}

// CreateSession provisions a session bound to a profile and seeds it with
// the profile greeting.
func (s *Service) CreateSession(_ context.Context, profileID string) (*Session, error) {
	if profileID == "" {
		profileID = s.defaultProfile
	}
	if profileID == "" {
		return nil, ErrProfileRequired
	}

	p, ok := s.profiles.FindByID(profileID)
	if !ok {
		return nil, ErrProfileNotFound
	}

	deps := s.base
	if p.Voice != "" {
		deps.Voice = p.Voice
	}
	if p.Language != "" {
		deps.Language = p.Language
	}
	switch {
	case p.SystemPrompt != "":
		deps.SystemPrompt = p.SystemPrompt
	case deps.SystemPrompt == "":
		deps.SystemPrompt = profile.DefaultSystemPrompt
	}

	session := NewSession(uuid.NewString(), p.ID, deps)
	if p.InitialMessage != "" {
		if _, err := session.InitializeWithGreeting(p.InitialMessage); err != nil {
			log.Printf("[chat] greeting failed session=%s: %v", session.ID(), err)
		}
	}

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	log.Printf("[chat] session created id=%s profile=%s", session.ID(), p.ID)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// CloseSession removes a session and releases everything it holds.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.Close()
	log.Printf("[chat] session closed id=%s", sessionID)
	return nil
}

// List summarizes the live sessions, oldest first.
func (s *Service) List() []chat.SessionInfo {
	s.mu.RLock()
	infos := make([]chat.SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, session.Info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// CloseAll closes every session, e.g. on shutdown.
func (s *Service) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
