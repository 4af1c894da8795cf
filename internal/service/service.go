// Package service contains the business logic layer: validation, the posting
// and engagement rules, and the nickname-change propagation sequence.
// Handlers translate HTTP to these calls; repositories do the SQL. Nothing
// here knows about status codes or statements.
package service

import "sync"

// Event names pushed to authenticated realtime sessions. The payload of each
// carries the affected entity's current denormalized state, so clients render
// straight from the event.
const (
	EventNewPost          = "newPost"
	EventNewReply         = "newReply"
	EventEngagementUpdate = "engagementUpdate"
	EventPostDeleted      = "postDeleted"
)

// Broadcaster fans an event out to every authenticated session. The realtime
// hub satisfies it; tests substitute a recorder. Broadcast must not block —
// delivery is fire-and-forget.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// NopBroadcaster discards every event. Used when the server runs without a
// realtime hub (and by tests that don't care about fan-out).
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, any) {}

// keyedMutex provides one mutex per string key. Entries are created on first
// use and never removed; the key space is bounded by the user population.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m := k.locks[key]
	k.mu.Unlock()
	m.Unlock()
}
