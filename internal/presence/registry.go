// Package presence tracks which connection sessions belong to which user.
// The registry is process-local and rebuilt as clients reconnect; it is not
// a source of truth for "last seen".
package presence

import (
	"slices"
	"sync"
)

type Registry struct {
	// userID -> set of session IDs
	sessions map[string]map[string]struct{}
	// sessionID -> userID
	owners map[string]string

	mu sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]struct{}),
		owners:   make(map[string]string),
	}
}

// Register adds sessionID to the user's session set. Registering the same
// session twice is a no-op; registering it under another user moves it.
func (r *Registry) Register(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[sessionID]; ok {
		if owner == userID {
			return
		}
		r.removeLocked(owner, sessionID)
	}

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]struct{})
		r.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
	r.owners[sessionID] = userID
}

// Deregister removes the session from whichever user owns it. It returns
// the owner and whether that user went offline as a result.
func (r *Registry) Deregister(sessionID string) (userID string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[sessionID]
	if !ok {
		return "", false
	}
	return userID, r.removeLocked(userID, sessionID)
}

func (r *Registry) removeLocked(userID, sessionID string) bool {
	delete(r.owners, sessionID)
	set := r.sessions[userID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.sessions, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// ListOnline returns the sorted ids of users with at least one session.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// SessionsOf returns the sessions currently registered for the user.
func (r *Registry) SessionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions[userID]))
	for id := range r.sessions[userID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
