// memory based implementation for testing purposes
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyp0633/libhorizon/storage"
)

// Store implements storage.Store using in-memory maps
type Store struct {
	mu         sync.RWMutex
	templates  map[string]*storage.Template       // key: template id
	rules      map[string]*storage.RecurrenceRule // key: template id
	exceptions map[storage.InstanceKey]*storage.Exception
	instances  map[storage.InstanceKey]*storage.Instance
	windows    map[string]*storage.Window // key: organization id
}

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		templates:  make(map[string]*storage.Template),
		rules:      make(map[string]*storage.RecurrenceRule),
		exceptions: make(map[storage.InstanceKey]*storage.Exception),
		instances:  make(map[storage.InstanceKey]*storage.Instance),
		windows:    make(map[string]*storage.Window),
	}
}

func notFound(msg string) error {
	return &storage.Error{Type: storage.ErrNotFound, Message: msg}
}

func invalid(msg string) error {
	return &storage.Error{Type: storage.ErrInvalidInput, Message: msg}
}

// Template operations

func (s *Store) GetTemplate(_ context.Context, id string) (*storage.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, notFound("template not found")
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTemplates(_ context.Context, organizationID string) ([]storage.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Template
	for _, t := range s.templates {
		if t.OrganizationID == organizationID && t.IsRecurringTemplate {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PutTemplate(_ context.Context, t *storage.Template) error {
	if t == nil || t.ID == "" {
		return invalid("template id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

// Rule operations

func (s *Store) GetRecurrenceRule(_ context.Context, baseRecurringEventID string) (*storage.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[baseRecurringEventID]
	if !ok {
		return nil, notFound("recurrence rule not found")
	}
	cp := *r
	return &cp, nil
}

func (s *Store) PutRecurrenceRule(_ context.Context, r *storage.RecurrenceRule) error {
	if r == nil || r.BaseRecurringEventID == "" {
		return invalid("rule must reference a template")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.rules[r.BaseRecurringEventID] = &cp
	return nil
}

// Exception operations

func (s *Store) ListExceptions(_ context.Context, recurringEventID string) ([]storage.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Exception
	for k, e := range s.exceptions {
		if k.RecurringEventID == recurringEventID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceStartTime.Before(out[j].InstanceStartTime) })
	return out, nil
}

func (s *Store) PutException(_ context.Context, e *storage.Exception) error {
	if e == nil || e.RecurringEventID == "" || e.InstanceStartTime.IsZero() {
		return invalid("exception must reference an occurrence")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.exceptions[e.Key()] = &cp
	return nil
}

// Instance operations

func (s *Store) ListInstanceStarts(_ context.Context, baseRecurringEventID string, from, to time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []time.Time
	for k, inst := range s.instances {
		if k.RecurringEventID != baseRecurringEventID {
			continue
		}
		start := inst.OriginalInstanceStartTime
		if start.Before(from) || start.After(to) {
			continue
		}
		out = append(out, start)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) InsertInstances(_ context.Context, instances []storage.Instance) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for i := range instances {
		inst := instances[i]
		if inst.BaseRecurringEventID == "" {
			return inserted, invalid("instance must reference a template")
		}
		key := inst.Key()
		if _, exists := s.instances[key]; exists {
			continue
		}
		s.instances[key] = &inst
		inserted++
	}
	return inserted, nil
}

func (s *Store) ListInstances(_ context.Context, filter storage.InstanceFilter) ([]storage.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Instance
	for _, inst := range s.instances {
		if filter.OrganizationID != "" && inst.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.BaseRecurringEventID != "" && inst.BaseRecurringEventID != filter.BaseRecurringEventID {
			continue
		}
		if !filter.From.IsZero() && !inst.ActualEndTime.After(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !inst.ActualStartTime.Before(filter.To) {
			continue
		}
		if inst.IsCancelled && !filter.IncludeCancelled {
			continue
		}
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActualStartTime.Equal(out[j].ActualStartTime) {
			return out[i].BaseRecurringEventID < out[j].BaseRecurringEventID
		}
		return out[i].ActualStartTime.Before(out[j].ActualStartTime)
	})
	return out, nil
}

func (s *Store) CountInstances(_ context.Context, organizationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, inst := range s.instances {
		if inst.OrganizationID == organizationID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountInstancesEndingBefore(_ context.Context, organizationID string, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, inst := range s.instances {
		if inst.OrganizationID == organizationID && inst.ActualEndTime.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteInstancesEndingBefore(_ context.Context, organizationID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, inst := range s.instances {
		if inst.OrganizationID == organizationID && inst.ActualEndTime.Before(cutoff) {
			delete(s.instances, k)
			n++
		}
	}
	return n, nil
}

// Window operations

func (s *Store) GetWindow(_ context.Context, organizationID string) (*storage.Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[organizationID]
	if !ok {
		return nil, notFound("window not found")
	}
	cp := *w
	return &cp, nil
}

func (s *Store) ListWindows(_ context.Context) ([]storage.Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessingPriority == out[j].ProcessingPriority {
			return out[i].OrganizationID < out[j].OrganizationID
		}
		return out[i].ProcessingPriority > out[j].ProcessingPriority
	})
	return out, nil
}

func (s *Store) InsertWindow(_ context.Context, w *storage.Window) (*storage.Window, error) {
	if w == nil || w.OrganizationID == "" {
		return nil, invalid("window must reference an organization")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.windows[w.OrganizationID]; exists {
		return nil, &storage.Error{Type: storage.ErrAlreadyExists, Message: "window already exists"}
	}
	cp := *w
	s.windows[w.OrganizationID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) UpdateWindow(_ context.Context, w *storage.Window) error {
	if w == nil {
		return invalid("window is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.windows[w.OrganizationID]; !exists {
		return notFound("window not found")
	}
	cp := *w
	s.windows[w.OrganizationID] = &cp
	return nil
}

func (s *Store) Close() error { return nil }
