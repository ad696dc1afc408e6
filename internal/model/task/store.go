package task

import "github.com/zhouzirui/medlens/backend/internal/model/analysis"

// Store exposes task lookup for the extractor and HTTP handlers.
type Store interface {
	List() []Task
	FindByID(id analysis.Kind) (Task, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Task
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied tasks.
func NewMemoryStore(items []Task) *MemoryStore {
	return &MemoryStore{items: append([]Task(nil), items...)}
}

// List returns the configured tasks.
func (s *MemoryStore) List() []Task {
	return append([]Task(nil), s.items...)
}

// FindByID looks up a task by kind.
func (s *MemoryStore) FindByID(id analysis.Kind) (Task, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Task{}, false
}
