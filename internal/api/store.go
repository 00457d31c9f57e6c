package api

import (
	"sync"
)

// DefaultStoreCapacity bounds how many finished generations are kept.
const DefaultStoreCapacity = 256

// GenerationStore keeps finished generations for GET /v1/generations/:id.
// The oldest entry is evicted once capacity is reached.
type GenerationStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]Generation
	order    []string
}

func NewGenerationStore(capacity int) *GenerationStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &GenerationStore{
		capacity: capacity,
		items:    make(map[string]Generation),
	}
}

func (s *GenerationStore) Save(g Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[g.ID]; !ok {
		s.order = append(s.order, g.ID)
	}
	s.items[g.ID] = g
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}
}

func (s *GenerationStore) Get(id string) (Generation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.items[id]
	return g, ok
}

func (s *GenerationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *GenerationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
