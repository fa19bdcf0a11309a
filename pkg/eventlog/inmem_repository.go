package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemRepository implements Repository with an in-memory slice,
// for testing and development.
type InMemRepository struct {
	mutex   sync.Mutex
	entries []Entry
	nextID  int64
}

func NewInMemRepository() *InMemRepository {
	return &InMemRepository{nextID: 1}
}

func dataEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func copyData(data map[string]string) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (r *InMemRepository) insertLocked(entry Entry) Entry {
	if entry.InsertedOn.IsZero() {
		entry.InsertedOn = time.Now().UTC()
	}
	entry.ID = r.nextID
	entry.Data = copyData(entry.Data)
	r.nextID++
	r.entries = append(r.entries, entry)
	return entry
}

func (r *InMemRepository) Record(ctx context.Context, entry Entry) (Entry, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.insertLocked(entry), nil
}

func (r *InMemRepository) RecordIfDataAbsent(ctx context.Context, entry Entry, since time.Time) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.entries {
		if existing.UserID == entry.UserID && existing.Event == entry.Event &&
			!existing.InsertedOn.Before(since) && dataEqual(existing.Data, entry.Data) {
			return false, nil
		}
	}

	r.insertLocked(entry)
	return true, nil
}

func (r *InMemRepository) CountSince(ctx context.Context, params CountSinceParams) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var count int64
	for _, entry := range r.entries {
		if entry.UserID == params.UserID && entry.Event == params.Event && !entry.InsertedOn.Before(params.Since) {
			count++
		}
	}
	return count, nil
}

func (r *InMemRepository) SelectSince(ctx context.Context, params SelectSinceParams) ([]Entry, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var entries []Entry
	for _, entry := range r.entries {
		if entry.UserID == params.UserID && entry.Event == params.Event && !entry.InsertedOn.Before(params.Since) {
			entry.Data = copyData(entry.Data)
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].InsertedOn.After(entries[j].InsertedOn)
	})

	if params.Limit > 0 && len(entries) > params.Limit {
		entries = entries[:params.Limit]
	}
	return entries, nil
}

func (r *InMemRepository) DeleteOlderThan(ctx context.Context, params DeleteOlderThanParams) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var kept []Entry
	var removed int64
	for _, entry := range r.entries {
		if entry.InsertedOn.Before(params.Cutoff) && eventMatches(params.Events, entry.Event) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	r.entries = kept
	return removed, nil
}

func eventMatches(events []string, event string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}
