package artifact

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/zhouzirui/voice-chat/backend/internal/model/chat"
)

type entry struct {
	artifact   *Artifact
	owner      string
	createdAt  time.Time
	releasedAt time.Time
}

// Store keeps audio artifacts addressable by id until they are released.
// Released ids are kept as tombstones so late lookups report ErrReleased.
type Store struct {
	mu         sync.RWMutex
	items      map[string]*entry
	publicPath string
	now        func() time.Time
}

// NewStore creates an artifact store serving references under publicPath.
func NewStore(publicPath string) *Store {
	return &Store{
		items:      make(map[string]*entry),
		publicPath: strings.TrimSuffix(publicPath, "/"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register takes ownership of an artifact on behalf of owner and returns
// the reference handed to messages.
func (s *Store) Register(owner string, a *Artifact) chat.AudioRef {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.items[a.ID] = &entry{artifact: a, owner: owner, createdAt: s.now()}
	s.mu.Unlock()

	return s.ref(a)
}

func (s *Store) ref(a *Artifact) chat.AudioRef {
	return chat.AudioRef{
		ID:              a.ID,
		URL:             fmt.Sprintf("%s/%s", s.publicPath, a.ID),
		Format:          a.Format,
		ContentType:     a.ContentType,
		DurationSeconds: a.DurationSeconds(),
	}
}

// Get returns a live artifact.
func (s *Store) Get(id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if item.artifact == nil {
		return nil, ErrReleased
	}
	return item.artifact, nil
}

// Release drops the artifact payload; the reference stops resolving.
func (s *Store) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.artifact == nil {
		return ErrReleased
	}
	item.artifact = nil
	item.releasedAt = s.now()
	return nil
}

// ReleaseOwner releases every live artifact registered by owner.
func (s *Store) ReleaseOwner(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, item := range s.items {
		if item.owner != owner || item.artifact == nil {
			continue
		}
		item.artifact = nil
		item.releasedAt = s.now()
		released++
	}
	return released
}

// Sweep releases artifacts older than ttl and forgets tombstones older than ttl.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for id, item := range s.items {
		if item.artifact == nil {
			if item.releasedAt.Before(cutoff) {
				delete(s.items, id)
			}
			continue
		}
		if item.createdAt.Before(cutoff) {
			item.artifact = nil
			item.releasedAt = s.now()
			released++
		}
	}
	return released
}

// Live reports the number of unreleased artifacts.
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if item.artifact != nil {
			n++
		}
	}
	return n
}

// Janitor periodically sweeps expired artifacts.
type Janitor struct {
	cron  *cron.Cron
	store *Store
	ttl   time.Duration
}

// NewJanitor schedules Sweep(ttl) on the given cron spec (e.g. "@every 5m").
func NewJanitor(store *Store, spec string, ttl time.Duration) (*Janitor, error) {
	j := &Janitor{cron: cron.New(), store: store, ttl: ttl}
	if _, err := j.cron.AddFunc(spec, j.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return j, nil
}

func (j *Janitor) run() {
	if n := j.store.Sweep(j.ttl); n > 0 {
		log.Printf("[artifact] released %d expired artifacts", n)
	}
}

// Start begins the schedule in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
