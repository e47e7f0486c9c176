package config

import (
	"strconv"
	"sync"
)

// AccessList is the set of Telegram user IDs allowed to talk to the agent.
// An empty list allows everyone. It is safe to replace at runtime.
type AccessList struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

// NewAccessList creates an AccessList from ids.
func NewAccessList(ids []int64) *AccessList {
	a := &AccessList{}
	a.Set(ids)
	return a
}

// Set replaces the allowed IDs.
func (a *AccessList) Set(ids []int64) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	a.mu.Lock()
	a.ids = set
	a.mu.Unlock()
}

// Len returns the number of allowed IDs.
func (a *AccessList) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.ids)
}

// Allowed reports whether senderID may use the agent.
func (a *AccessList) Allowed(senderID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.ids) == 0 {
		return true
	}
	id, err := strconv.ParseInt(senderID, 10, 64)
	if err != nil {
		return false
	}
	_, ok := a.ids[id]
	return ok
}
