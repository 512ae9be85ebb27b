package shell

import "sync"

// Location is the page's visible address. Replace swaps the current history
// entry without reloading.
type Location interface {
	Href() string
	Replace(href string)
}

// MemoryLocation is a Location held in memory, one per page session.
type MemoryLocation struct {
	mu           sync.Mutex
	href         string
	replacements []string
}

// NewMemoryLocation creates a location starting at href.
func NewMemoryLocation(href string) *MemoryLocation {
	return &MemoryLocation{href: href}
}

// Href returns the current address.
func (l *MemoryLocation) Href() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.href
}

// Replace swaps the current address.
func (l *MemoryLocation) Replace(href string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.href = href
	l.replacements = append(l.replacements, href)
}

// Replacements returns every address passed to Replace, oldest first.
func (l *MemoryLocation) Replacements() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.replacements))
	copy(out, l.replacements)
	return out
}
