package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"lead-assistant/internal/domain"
)

const (
	idPrefix     = "conv_"
	idRandomSize = 9
)

// Patch describes a merge into an existing conversation. Empty fields are
// left untouched; Append is added after the stored history.
type Patch struct {
	LastResponseID string
	Append         []domain.Message
}

// Store keeps conversation contexts keyed by conversation id.
type Store interface {
	Get(id string) (domain.Conversation, bool)
	Create() string
	Restore(id string) domain.Conversation
	Update(id string, patch Patch)
	Delete(id string)
}

// MemoryStore is a process-local Store. With a positive capacity the least
// recently used conversations are evicted; otherwise it grows without bound.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*domain.Conversation
	cache *lru.Cache
	now   func() time.Time
}

type Option func(*MemoryStore)

// WithClock overrides the time source used for ids and CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a MemoryStore. capacity <= 0 disables eviction.
func NewMemoryStore(capacity int, opts ...Option) (*MemoryStore, error) {
	s := &MemoryStore{now: time.Now}
	if capacity > 0 {
		cache, err := lru.New(capacity)
		if err != nil {
			return nil, fmt.Errorf("conversation: create lru: %w", err)
		}
		s.cache = cache
	} else {
		s.items = make(map[string]*domain.Conversation)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns a copy of the conversation stored under id.
func (s *MemoryStore) Get(id string) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(id)
	if !ok {
		return domain.Conversation{}, false
	}
	return clone(c), true
}

// Create stores an empty conversation under a fresh id and returns the id.
func (s *MemoryStore) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		id := newID(s.now())
		if _, taken := s.lookup(id); taken {
			continue
		}
		s.put(&domain.Conversation{ID: id, CreatedAt: s.now()})
		return id
	}
}

// Restore returns the conversation under id, creating an empty one if the id
// is unknown, e.g. an id persisted in the CRM that outlived a restart.
func (s *MemoryStore) Restore(id string) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.lookup(id); ok {
		return clone(c)
	}
	c := &domain.Conversation{ID: id, CreatedAt: s.now()}
	s.put(c)
	return clone(c)
}

// Update merges patch into the conversation. Unknown ids are ignored.
func (s *MemoryStore) Update(id string, patch Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(id)
	if !ok {
		return
	}
	if patch.LastResponseID != "" {
		c.LastResponseID = patch.LastResponseID
	}
	if len(patch.Append) > 0 {
		c.Messages = append(c.Messages, patch.Append...)
	}
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		s.cache.Remove(id)
		return
	}
	delete(s.items, id)
}

// Len reports the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return s.cache.Len()
	}
	return len(s.items)
}

func (s *MemoryStore) lookup(id string) (*domain.Conversation, bool) {
	if s.cache != nil {
		v, ok := s.cache.Get(id)
		if !ok {
			return nil, false
		}
		return v.(*domain.Conversation), true
	}
	c, ok := s.items[id]
	return c, ok
}

func (s *MemoryStore) put(c *domain.Conversation) {
	if s.cache != nil {
		s.cache.Add(c.ID, c)
		return
	}
	s.items[c.ID] = c
}

func clone(c *domain.Conversation) domain.Conversation {
	out := *c
	out.Messages = append([]domain.Message(nil), c.Messages...)
	return out
}

// newID builds conv_<unix millis>_<9 random lowercase alphanumerics>.
func newID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%d_%s", idPrefix, now.UnixMilli(), random[:idRandomSize])
}

// ValidID reports whether id has the shape produced by Create.
func ValidID(id string) bool {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return false
	}
	millis, random, ok := strings.Cut(rest, "_")
	if !ok || millis == "" || len(random) != idRandomSize {
		return false
	}
	for _, r := range millis {
		if r < '0' || r > '9' {
			return false
		}
	}
	for _, r := range random {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
