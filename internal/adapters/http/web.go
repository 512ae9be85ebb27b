// Package web is the HTTP surface: the static page, the JSON API its
// script drives page sessions through, and the emailed-link endpoint.
package web

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"absences/internal/adapters/http/middleware"
	"absences/internal/adapters/http/perf"
	idp "absences/internal/adapters/identity"
	"absences/internal/application/shell"
)

// DefaultPollTimeout bounds a state long poll.
const DefaultPollTimeout = 25 * time.Second

// Deps holds what the HTTP surface is built from.
type Deps struct {
	Identity *idp.Server
	Shell    shell.Config
	Clock    clockwork.Clock

	// CSRFKey is 32 bytes.
	CSRFKey            []byte
	SecureCookies      bool
	TrustedOrigins     []string
	RateLimitPerSecond int

	TabIdleTimeout time.Duration
	PollTimeout    time.Duration
	SlowRequest    time.Duration
	// Collector enables /debug/perf when non-nil.
	Collector *perf.Collector
}

// Mux is the application's http.Handler. Close releases every open page
// session.
type Mux struct {
	handler http.Handler
	tabs    *Tabs
	limiter *middleware.RateLimiter
}

// NewMux wires HTTP handlers for the app.
// PRE: deps.Identity is non-nil
func NewMux(staticDir string, deps Deps) *Mux {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.PollTimeout <= 0 {
		deps.PollTimeout = DefaultPollTimeout
	}
	if deps.RateLimitPerSecond <= 0 {
		deps.RateLimitPerSecond = 10
	}
	middleware.SecureCookies = deps.SecureCookies

	open := func(ctx context.Context, deviceID, href string) (*shell.App, func(), error) {
		client := deps.Identity.NewClient(deviceID)
		app := shell.NewApp(client, shell.NewMemoryLocation(href), deps.Clock, deps.Shell)
		// The page session outlives the request that opened it.
		if err := app.Start(context.WithoutCancel(ctx)); err != nil {
			client.Close()
			return nil, nil, err
		}
		return app, client.Close, nil
	}
	tabs := NewTabs(open, deps.Clock, deps.TabIdleTimeout)
	h := &handlers{identity: deps.Identity, tabs: tabs, pollTimeout: deps.PollTimeout}

	mux := http.NewServeMux()
	mux.Handle("GET /", spa(staticDir))
	mux.HandleFunc("GET "+idp.VerifyPath, h.handleVerify)
	mux.HandleFunc("POST /api/shell/boot", h.handleBoot)
	mux.HandleFunc("GET /api/shell/state", h.handleState)
	mux.HandleFunc("POST /api/shell/close", h.handleClose)
	mux.HandleFunc("POST /api/shell/{action}", h.handleAction)
	if deps.Collector != nil {
		mux.Handle("GET /debug/perf", deps.Collector.Handler())
	}

	limiter := middleware.NewRateLimiter(deps.RateLimitPerSecond, time.Second, nil)

	// Applied inside out: Timing -> RateLimit -> Device -> CSRF -> SecurityHeaders -> Mux
	handler := middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(deps.CSRFKey, middleware.CSRFOptions{
			Secure:         deps.SecureCookies,
			TrustedOrigins: deps.TrustedOrigins,
		}),
		middleware.Device,
		middleware.RateLimit(limiter),
		middleware.Timing(middleware.TimingOptions{
			SlowRequest:  deps.SlowRequest,
			Collector:    deps.Collector,
			SkipPrefixes: []string{"/api/shell/state"},
		}),
	)
	return &Mux{handler: handler, tabs: tabs, limiter: limiter}
}

// ServeHTTP implements http.Handler.
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

// Tabs exposes the page session registry.
func (m *Mux) Tabs() *Tabs {
	return m.tabs
}

// Close shuts down every page session and background sweep.
func (m *Mux) Close() {
	m.tabs.Shutdown()
	m.limiter.Stop()
}

// spa serves files from dir and falls back to index.html for page paths
// such as /reset-password.
func spa(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.Clean("/" + r.URL.Path)
		if clean != "/" && !strings.Contains(filepath.Base(clean), ".") {
			if _, err := os.Stat(filepath.Join(dir, clean)); err != nil {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, filepath.Join(dir, "index.html"))
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}
