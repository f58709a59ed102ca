package presence

import (
	"sort"
	"sync"
)

type (
	// ChangeFunc is invoked once per real state change, outside the lock.
	ChangeFunc func(userID string, online bool)

	// Tracker is the set of identities with at least one live connection.
	Tracker struct {
		mu       sync.RWMutex
		online   map[string]struct{}
		onChange ChangeFunc
	}
)

func NewTracker(onChange ChangeFunc) *Tracker {
	return &Tracker{
		online:   make(map[string]struct{}),
		onChange: onChange,
	}
}

// MarkOnline reports whether the set changed.
func (t *Tracker) MarkOnline(userID string) bool {
	t.mu.Lock()
	_, ok := t.online[userID]
	if !ok {
		t.online[userID] = struct{}{}
	}
	t.mu.Unlock()

	if !ok && t.onChange != nil {
		t.onChange(userID, true)
	}
	return !ok
}

// MarkOffline reports whether the set changed.
func (t *Tracker) MarkOffline(userID string) bool {
	t.mu.Lock()
	_, ok := t.online[userID]
	if ok {
		delete(t.online, userID)
	}
	t.mu.Unlock()

	if ok && t.onChange != nil {
		t.onChange(userID, false)
	}
	return ok
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns a sorted snapshot.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
