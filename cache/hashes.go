package cache

import "sync"

// Hashes maps page URLs to the hash of their rendering, so a reference
// shared by many reftests is rendered once. It is safe for concurrent use.
type Hashes struct {
	mu         sync.RWMutex
	store      map[string]string
	maxEntries int
}

// NewHashes creates a Hashes holding at most maxEntries URLs.
func NewHashes(maxEntries int) *Hashes {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Hashes{
		store:      make(map[string]string),
		maxEntries: maxEntries,
	}
}

// Get returns the hash recorded for url.
func (h *Hashes) Get(url string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hash, ok := h.store[url]
	return hash, ok
}

// Set records hash for url. If the cache is at capacity, a random entry is
// evicted to make room.
func (h *Hashes) Set(url, hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.store[url]; !exists && len(h.store) >= h.maxEntries {
		for k := range h.store {
			delete(h.store, k)
			break
		}
	}
	h.store[url] = hash
}

// Len returns the number of recorded URLs.
func (h *Hashes) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.store)
}
