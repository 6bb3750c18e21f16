package cache

import "sync"

type memRecord struct {
	key   Digest
	entry *Entry
}

// MemCache holds the latest entry per function for the life of the process.
type MemCache struct {
	mu     sync.RWMutex
	byFunc map[string]memRecord
}

// NewMemCache creates a MemCache with the given capacity hint.
func NewMemCache(capHint int) *MemCache {
	return &MemCache{byFunc: make(map[string]memRecord, capHint)}
}

// Get returns the entry of fn when it was stored under key.
func (c *MemCache) Get(fn string, key Digest) (*Entry, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	rec, ok := c.byFunc[fn]
	c.mu.RUnlock()
	if !ok || rec.key != key {
		return nil, false, nil
	}
	return rec.entry, true, nil
}

// Put replaces the entry of e.Func.
func (c *MemCache) Put(key Digest, e *Entry) error {
	if c == nil || e == nil {
		return nil
	}
	c.mu.Lock()
	c.byFunc[e.Func] = memRecord{key: key, entry: e}
	c.mu.Unlock()
	return nil
}

func (c *MemCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byFunc)
}
