package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-aware-tasks/internal/task"
)

var (
	// ErrNotFound is returned when no task exists for a given ID.
	ErrNotFound = errors.New("task not found")
)

// MemoryStore is a concurrency-safe in-memory task repository.
// All reads return copies; callers never hold a pointer into the store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: task ID
	data map[string]*task.Task

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*task.Task),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores t as a new DRAFT task with a fresh ID, ignoring any ID/state supplied.
func (s *MemoryStore) Create(t task.Task) task.Task {
	now := s.now()
	t.ID = uuid.NewString()
	t.State = task.StateDraft
	t.CreatedAt = now
	t.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := t
	s.data[t.ID] = &stored
	return t
}

// Get returns the task with the given ID.
func (s *MemoryStore) Get(id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[id]
	if !ok {
		return task.Task{}, ErrNotFound
	}
	return *t, nil
}

// List returns tasks, optionally filtered to the given states, ordered by priority (desc)
// then scheduled date (asc) then ID.
func (s *MemoryStore) List(states ...task.State) []task.Task {
	want := make(map[task.State]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	s.mu.RLock()
	result := make([]task.Task, 0, len(s.data))
	for _, t := range s.data {
		if len(want) > 0 && !want[t.State] {
			continue
		}
		result = append(result, *t)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		return a.ID < b.ID
	})
	return result
}

// Edit applies a field-level change. It never touches category or state.
func (s *MemoryStore) Edit(id string, e task.Edit) (task.Task, error) {
	return s.Update(id, func(t *task.Task) error {
		e.Apply(t)
		return nil
	})
}

// Update runs fn against a copy of the task under the store's write lock and saves the
// copy only if fn succeeds. Concurrent Updates of one task are therefore serialized, and
// fn always sees the current state.
func (s *MemoryStore) Update(id string, fn func(*task.Task) error) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[id]
	if !ok {
		return task.Task{}, ErrNotFound
	}

	next := *cur
	if err := fn(&next); err != nil {
		return *cur, err
	}
	next.ID = cur.ID
	next.Category = cur.Category
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()

	s.data[cur.ID] = &next
	return next, nil
}

// Delete removes a task regardless of its state.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[id]; !ok {
		return ErrNotFound
	}
	delete(s.data, id)
	return nil
}
