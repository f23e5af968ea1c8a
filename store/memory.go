package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cameroncuttingedge/battleship/models"
)

type memoryRecord struct {
	primary   []byte
	secondary []byte
}

// MemoryStore keeps encoded records in process. Loaded matches never alias
// the saved ones.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
	}
}

func (s *MemoryStore) Load(_ context.Context, matchID string) (*models.Match, error) {
	s.mu.RLock()
	rec, exists := s.records[matchID]
	s.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}

	var p Primary
	var sec Secondary
	if err := json.Unmarshal(rec.primary, &p); err != nil {
		return nil, fmt.Errorf("decode primary record: %w", err)
	}
	if err := json.Unmarshal(rec.secondary, &sec); err != nil {
		return nil, fmt.Errorf("decode secondary record: %w", err)
	}
	return Join(p, sec), nil
}

func (s *MemoryStore) Save(_ context.Context, m *models.Match) error {
	p, sec := Split(m)
	pb, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode primary record: %w", err)
	}
	sb, err := json.Marshal(sec)
	if err != nil {
		return fmt.Errorf("encode secondary record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[m.ID] = memoryRecord{primary: pb, secondary: sb}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
