package archive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxInMemoryExchanges bounds the dev/local store so a long-lived process
// does not grow without limit.
const maxInMemoryExchanges = 1000

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Exchange
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveExchange(_ context.Context, rec Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	if over := len(s.records) - maxInMemoryExchanges; over > 0 {
		s.records = append(s.records[:0:0], s.records[over:]...)
	}
	return nil
}

func (s *InMemoryStore) RecentExchanges(_ context.Context, sessionKey string, limit int) ([]Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []Exchange
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionKey != "" && s.records[i].SessionKey != sessionKey {
			continue
		}
		out = append(out, s.records[i])
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
