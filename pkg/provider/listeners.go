package provider

import (
	"slices"
	"sync"
)

// Listeners is a registry of auth listeners for IdentityProvider
// implementations.
type Listeners struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]AuthListener
}

// NewListeners returns an empty registry.
func NewListeners() *Listeners {
	return &Listeners{byID: make(map[int]AuthListener)}
}

// Add registers listener and returns the handle that removes it.
func (l *Listeners) Add(listener AuthListener) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.byID[id] = listener
	return &subscription{listeners: l, id: id}
}

// Emit calls every registered listener in registration order. Listeners run
// outside the lock so they may unsubscribe themselves.
func (l *Listeners) Emit(event AuthEvent, session *Session) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.byID))
	for id := range l.byID {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	slices.Sort(ids)
	for _, id := range ids {
		l.mu.Lock()
		listener, ok := l.byID[id]
		l.mu.Unlock()
		if ok {
			listener(event, session)
		}
	}
}

// Len reports the number of registered listeners.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

func (l *Listeners) remove(id int) {
	l.mu.Lock()
	delete(l.byID, id)
	l.mu.Unlock()
}

type subscription struct {
	listeners *Listeners
	id        int
	once      sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.listeners.remove(s.id)
	})
}
