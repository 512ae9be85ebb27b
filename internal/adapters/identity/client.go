package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"absences/internal/domain/identity"
)

// ErrClientClosed is returned by a Client after Close.
var ErrClientClosed = errors.New("identity client closed")

// Client is the identity provider as one page session sees it. Every
// Client for the same device shares that device's session and events.
type Client struct {
	server   *Server
	deviceID string

	mu     sync.Mutex
	unsubs []func()
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

func newClient(s *Server, deviceID string) *Client {
	c := &Client{
		server:   s,
		deviceID: deviceID,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.autoRefresh()
	return c
}

// DeviceID returns the device the client is bound to.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// autoRefresh keeps the device's token fresh until Close.
func (c *Client) autoRefresh() {
	defer close(c.done)
	ticker := c.server.deps.Clock.NewTicker(c.server.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			if _, err := c.server.refresh(context.Background(), c.deviceID); err != nil {
				slog.Warn("token_refresh_failed", "device", c.deviceID, "error", err)
			}
		}
	}
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// GetCurrentSession returns the device's live session, or nil.
func (c *Client) GetCurrentSession(ctx context.Context) (*identity.Session, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.server.currentSession(ctx, c.deviceID)
}

// SignInWithPassword signs the device in.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.server.signIn(ctx, c.deviceID, email, password)
}

// SignUpWithPassword creates an account and signs the device in. Accounts
// need no confirmation, so opts only matter to providers that send one.
func (c *Client) SignUpWithPassword(ctx context.Context, email, password string, _ identity.RedirectOptions) (identity.SignUpResult, error) {
	if err := c.check(); err != nil {
		return identity.SignUpResult{}, err
	}
	return c.server.signUp(ctx, c.deviceID, email, password)
}

// RequestPasswordReset emails a recovery link.
func (c *Client) RequestPasswordReset(ctx context.Context, email string, opts identity.RedirectOptions) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.server.RequestPasswordReset(ctx, email, opts)
}

// UpdatePassword changes the password of the device's account.
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.server.updatePassword(ctx, c.deviceID, newPassword)
}

// SignOut ends the device's session for every page session on it.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.server.signOut(ctx, c.deviceID)
}

// SubscribeToAuthEvents delivers the device's events to handler until the
// returned func is called or the client is closed.
func (c *Client) SubscribeToAuthEvents(handler func(identity.Event)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	unsub := c.server.hub.subscribe(c.deviceID, handler)
	c.unsubs = append(c.unsubs, unsub)
	return unsub, nil
}

// DetectSessionInURL processes recovery credentials left in location.
// A location with nothing to detect is not an error.
func (c *Client) DetectSessionInURL(ctx context.Context, location string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.server.detect(ctx, c.deviceID, location)
}

// Close stops auto-refresh and drops every subscription. It is safe to
// call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	close(c.stop)
	<-c.done
}
