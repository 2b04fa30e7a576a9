package urlstate

import "sync"

// History is a back/forward stack of committed locations.
type History struct {
	mu      sync.Mutex
	entries []string
	index   int
}

// NewHistory creates a History whose current entry is initial.
func NewHistory(initial string) *History {
	return &History{entries: []string{initial}}
}

// Push records loc as the new current entry and drops any forward entries.
// Pushing the current location is a no-op; it reports whether loc was added.
func (h *History) Push(loc string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries[h.index] == loc {
		return false
	}
	h.entries = append(h.entries[:h.index+1], loc)
	h.index++
	return true
}

// Back moves to the previous entry.
func (h *History) Back() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index == 0 {
		return h.entries[0], false
	}
	h.index--
	return h.entries[h.index], true
}

// Forward moves to the next entry.
func (h *History) Forward() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index == len(h.entries)-1 {
		return h.entries[h.index], false
	}
	h.index++
	return h.entries[h.index], true
}

// Current returns the current entry.
func (h *History) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
