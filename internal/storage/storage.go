// Package storage keeps the episode leaderboard.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an entry with the same ID already exists.
	ErrConflict = errors.New("conflict")
)

// DefaultCapacity is how many entries the memory store ranks.
const DefaultCapacity = 32

// Entry is one finished episode.
type Entry struct {
	ID        string    `json:"id"`
	Game      string    `json:"game"`
	Policy    string    `json:"policy"`
	Score     int       `json:"score"`
	Steps     int       `json:"steps"`
	MaxHit    int       `json:"max_hit"`
	RewardSum float64   `json:"reward_sum"`
	TracePath string    `json:"trace_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists leaderboard entries.
type Store interface {
	// Save assigns ID and CreatedAt when unset and stores the entry.
	Save(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	// Top returns up to n entries, best first.
	Top(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

func prepare(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

// better orders by score, earlier entries winning ties.
func better(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// MemoryStore keeps the best entries in memory. Entries that fall out of
// the ranking are forgotten.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry // sorted best first
	capacity int
}

// NewMemoryStore constructs a MemoryStore ranking up to capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, entry *Entry) error {
	prepare(entry)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == entry.ID {
			return ErrConflict
		}
	}
	i := sort.Search(len(m.entries), func(i int) bool { return better(*entry, m.entries[i]) })
	if i >= m.capacity {
		return nil
	}
	m.entries = append(m.entries, Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = *entry
	if len(m.entries) > m.capacity {
		m.entries = m.entries[:m.capacity]
	}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// Top implements Store.
func (m *MemoryStore) Top(_ context.Context, n int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	return append([]Entry(nil), m.entries[:n]...), nil
}

// Len returns the number of ranked entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
