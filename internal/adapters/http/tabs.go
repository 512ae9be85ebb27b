package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"absences/internal/application/shell"
)

// ErrTabNotFound is returned for unknown, closed or foreign tab ids.
var ErrTabNotFound = errors.New("tab not found")

// DefaultTabIdleTimeout is how long a tab may go unpolled before it is closed.
const DefaultTabIdleTimeout = 2 * time.Minute

// AppOpener starts a page session for a device at href. The returned func
// releases whatever the session holds besides the App itself.
type AppOpener func(ctx context.Context, deviceID, href string) (*shell.App, func(), error)

type tab struct {
	deviceID string
	app      *shell.App
	release  func()
	lastSeen time.Time
	// reported is the location last sent to the browser.
	reported string
}

// Tabs is the in-memory registry of open page sessions.
type Tabs struct {
	open  AppOpener
	clock clockwork.Clock
	idle  time.Duration

	mu   sync.Mutex
	tabs map[string]*tab

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewTabs creates a registry and starts its idle sweep.
func NewTabs(open AppOpener, clk clockwork.Clock, idle time.Duration) *Tabs {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if idle <= 0 {
		idle = DefaultTabIdleTimeout
	}
	t := &Tabs{
		open:  open,
		clock: clk,
		idle:  idle,
		tabs:  make(map[string]*tab),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Create opens a page session and returns its tab id.
// PRE: deviceID is non-empty
// POST: The tab is registered and its App started
func (t *Tabs) Create(ctx context.Context, deviceID, href string) (string, *shell.App, error) {
	app, release, err := t.open(ctx, deviceID, href)
	if err != nil {
		return "", nil, err
	}
	id := uuid.New().String()
	t.mu.Lock()
	t.tabs[id] = &tab{
		deviceID: deviceID,
		app:      app,
		release:  release,
		lastSeen: t.clock.Now(),
		reported: href,
	}
	n := len(t.tabs)
	t.mu.Unlock()
	slog.Debug("tab_opened", "tab", id, "open_tabs", n)
	return id, app, nil
}

// Get returns a tab's App and marks the tab as seen.
// POST: ErrTabNotFound unless the tab exists and belongs to deviceID
func (t *Tabs) Get(id, deviceID string) (*shell.App, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tb, ok := t.tabs[id]
	if !ok || tb.deviceID != deviceID {
		return nil, ErrTabNotFound
	}
	tb.lastSeen = t.clock.Now()
	return tb.app, nil
}

// Reported returns the location last sent to the browser for a tab.
func (t *Tabs) Reported(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tb, ok := t.tabs[id]; ok {
		return tb.reported
	}
	return ""
}

// MarkReported records the location sent to the browser for a tab.
func (t *Tabs) MarkReported(id, location string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tb, ok := t.tabs[id]; ok {
		tb.reported = location
	}
}

// Close ends one tab. Closing an unknown tab is a no-op.
func (t *Tabs) Close(id, deviceID string) bool {
	t.mu.Lock()
	tb, ok := t.tabs[id]
	if !ok || tb.deviceID != deviceID {
		t.mu.Unlock()
		return false
	}
	delete(t.tabs, id)
	t.mu.Unlock()

	closeTab(tb)
	slog.Debug("tab_closed", "tab", id)
	return true
}

// Len returns the number of open tabs.
func (t *Tabs) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tabs)
}

// Sweep closes tabs idle for longer than the timeout and returns how many.
func (t *Tabs) Sweep() int {
	now := t.clock.Now()
	var stale []*tab
	t.mu.Lock()
	for id, tb := range t.tabs {
		if now.Sub(tb.lastSeen) > t.idle {
			stale = append(stale, tb)
			delete(t.tabs, id)
		}
	}
	t.mu.Unlock()

	for _, tb := range stale {
		closeTab(tb)
	}
	if len(stale) > 0 {
		slog.Info("tabs_swept", "count", len(stale))
	}
	return len(stale)
}

func (t *Tabs) sweepLoop() {
	defer close(t.done)
	ticker := t.clock.NewTicker(t.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.Chan():
			t.Sweep()
		}
	}
}

// Shutdown stops the sweep and closes every tab. Safe to call more than once.
func (t *Tabs) Shutdown() {
	t.once.Do(func() {
		close(t.stop)
		<-t.done

		t.mu.Lock()
		all := make([]*tab, 0, len(t.tabs))
		for id, tb := range t.tabs {
			all = append(all, tb)
			delete(t.tabs, id)
		}
		t.mu.Unlock()
		for _, tb := range all {
			closeTab(tb)
		}
	})
}

func closeTab(tb *tab) {
	tb.app.Close()
	if tb.release != nil {
		tb.release()
	}
}
