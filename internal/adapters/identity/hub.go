package identity

import (
	"sync"

	"absences/internal/domain/identity"
)

// hub fans identity events out to every page session of a device, the way
// a browser shares auth state between tabs.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(identity.Event)
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]func(identity.Event))}
}

// subscribe registers handler for a device. The returned func removes it
// and is safe to call more than once.
func (h *hub) subscribe(deviceID string, handler func(identity.Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	if h.subs[deviceID] == nil {
		h.subs[deviceID] = make(map[int]func(identity.Event))
	}
	h.subs[deviceID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[deviceID], id)
			if len(h.subs[deviceID]) == 0 {
				delete(h.subs, deviceID)
			}
		})
	}
}

// publish delivers ev to every subscriber of the device. Handlers run on
// the caller's goroutine, outside the hub's lock.
func (h *hub) publish(deviceID string, ev identity.Event) {
	h.mu.Lock()
	handlers := make([]func(identity.Event), 0, len(h.subs[deviceID]))
	for _, fn := range h.subs[deviceID] {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// subscribers returns how many handlers a device has.
func (h *hub) subscribers(deviceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[deviceID])
}
