package shell

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"absences/internal/domain/identity"
)

// fakeProvider is an in-memory identity collaborator.
type fakeProvider struct {
	mu sync.Mutex

	session      *identity.Session
	sessionErr   error
	signIn       *identity.Session
	signInErr    error
	signUp       identity.SignUpResult
	updateErr    error
	subscribeErr error

	getCalls      int
	updates       []string
	signOuts      int
	resets        []string
	unsubscribes  int
	handlers      map[int]func(identity.Event)
	nextHandlerID int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{handlers: make(map[int]func(identity.Event))}
}

func (p *fakeProvider) GetCurrentSession(_ context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	return p.session, p.sessionErr
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, _ string) (*identity.Session, error) {
	p.mu.Lock()
	if p.signInErr != nil {
		defer p.mu.Unlock()
		return nil, p.signInErr
	}
	p.session = p.signIn
	s := p.signIn
	p.mu.Unlock()
	if s != nil {
		p.emit(identity.Event{Kind: identity.EventSignedIn, Session: s})
	}
	return s, nil
}

func (p *fakeProvider) SignUpWithPassword(_ context.Context, _, _ string, _ identity.RedirectOptions) (identity.SignUpResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signUp, nil
}

func (p *fakeProvider) RequestPasswordReset(_ context.Context, email string, _ identity.RedirectOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	return nil
}

func (p *fakeProvider) UpdatePassword(_ context.Context, newPassword string) error {
	p.mu.Lock()
	p.updates = append(p.updates, newPassword)
	err := p.updateErr
	s := p.session
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.emit(identity.Event{Kind: identity.EventUserUpdated, Session: s})
	return nil
}

func (p *fakeProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.signOuts++
	p.session = nil
	p.mu.Unlock()
	p.emit(identity.Event{Kind: identity.EventSignedOut})
	return nil
}

func (p *fakeProvider) SubscribeToAuthEvents(handler func(identity.Event)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	id := p.nextHandlerID
	p.nextHandlerID++
	p.handlers[id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.unsubscribes++
		delete(p.handlers, id)
	}, nil
}

func (p *fakeProvider) emit(ev identity.Event) {
	p.mu.Lock()
	handlers := make([]func(identity.Event), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (p *fakeProvider) setSession(s *identity.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}

func (p *fakeProvider) sessionCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getCalls
}

func (p *fakeProvider) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// detectingProvider also processes the location itself, the way hosted
// identity clients do on page load.
type detectingProvider struct {
	*fakeProvider
	detect func(p *fakeProvider, location string)
}

func (d *detectingProvider) DetectSessionInURL(_ context.Context, location string) error {
	d.detect(d.fakeProvider, location)
	return nil
}

func recoverySession() *identity.Session {
	return &identity.Session{UserID: "u1", Email: "teacher@school.test", Recovery: true}
}

func waitBooted(t *testing.T, a *App) {
	t.Helper()
	select {
	case <-a.Bootstrapped():
	case <-time.After(2 * time.Second):
		t.Fatal("bootstrap did not finish")
	}
}

func requireLocation(t *testing.T, loc Location, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return loc.Href() == want }, 2*time.Second, 5*time.Millisecond,
		"location never became %q", want)
}
