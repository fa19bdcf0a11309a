package sessionstore

import (
	"context"
	"sync"
)

// InMemRepository implements Repository with an in-memory map,
// for testing and development.
type InMemRepository struct {
	mutex    sync.Mutex
	sessions map[string]map[string]string
}

func NewInMemRepository() *InMemRepository {
	return &InMemRepository{sessions: make(map[string]map[string]string)}
}

func (r *InMemRepository) Select(ctx context.Context, sessionID string) (map[string]string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	fields := map[string]string{}
	for k, v := range r.sessions[sessionID] {
		fields[k] = v
	}
	return fields, nil
}

func (r *InMemRepository) Merge(ctx context.Context, sessionID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.sessions[sessionID]
	if !ok {
		stored = make(map[string]string)
		r.sessions[sessionID] = stored
	}
	for k, v := range fields {
		stored[k] = v
	}
	return nil
}

func (r *InMemRepository) DeleteFields(ctx context.Context, sessionID string, keys []string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(stored, k)
	}
	return nil
}
