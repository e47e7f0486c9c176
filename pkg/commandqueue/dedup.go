package commandqueue

import (
	"sync"
	"time"
)

const maxDedupEntries = 1024

type dedupEntry struct {
	id     string
	result taskResult
	stored time.Time
}

// dedupCache remembers finished results by request ID so a replayed queue
// item is not run twice. Expired entries are pruned on write.
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	order   []*dedupEntry
	entries map[string]*dedupEntry
}

func newDedupCache(ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &dedupCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*dedupEntry),
	}
}

func (dc *dedupCache) get(requestID string) (taskResult, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.entries[requestID]
	if !ok || dc.now().Sub(entry.stored) > dc.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

func (dc *dedupCache) set(requestID string, result taskResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	dc.prune(now)

	if old, ok := dc.entries[requestID]; ok {
		old.result = result
		return
	}
	entry := &dedupEntry{id: requestID, result: result, stored: now}
	dc.entries[requestID] = entry
	dc.order = append(dc.order, entry)
}

// prune drops expired entries and, past capacity, the oldest ones.
// order is oldest first.
func (dc *dedupCache) prune(now time.Time) {
	cut := 0
	for cut < len(dc.order) {
		entry := dc.order[cut]
		if now.Sub(entry.stored) <= dc.ttl && len(dc.order)-cut < maxDedupEntries {
			break
		}
		delete(dc.entries, entry.id)
		cut++
	}
	if cut > 0 {
		dc.order = append([]*dedupEntry(nil), dc.order[cut:]...)
	}
}

func (dc *dedupCache) size() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.entries)
}
