// Package identity is a local identity provider: password accounts, emailed
// recovery links and per-device sessions, exposed to page sessions through
// Client.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"absences/internal/adapters/email"
	accountStore "absences/internal/adapters/storage/account"
	tokenStore "absences/internal/adapters/storage/authtoken"
	sessionStore "absences/internal/adapters/storage/devicesession"
	"absences/internal/domain/account"
	"absences/internal/domain/identity"
)

// VerifyPath is where emailed links point.
const VerifyPath = "/auth/v1/verify"

// Defaults for Config fields left zero.
const (
	DefaultAccessTokenTTL   = time.Hour
	DefaultRecoveryTokenTTL = time.Hour
	DefaultExchangeCodeTTL  = 5 * time.Minute
	DefaultResetInterval    = 60 * time.Second
	DefaultRefreshInterval  = time.Minute
	DefaultRefreshMargin    = 5 * time.Minute
)

// Config holds the provider's settings.
type Config struct {
	// SiteURL is the public base URL; emailed links and default redirects use it.
	SiteURL string
	// Mode is how recovery credentials are handed back to the page.
	Mode identity.DeliveryMode
	// SigningKey signs access tokens and keys one-time token hashes.
	SigningKey []byte

	AccessTokenTTL   time.Duration
	RecoveryTokenTTL time.Duration
	ExchangeCodeTTL  time.Duration
	// ResetInterval is the minimum time between recovery emails per account.
	ResetInterval time.Duration
	// RefreshInterval is how often a client checks its session for refresh.
	RefreshInterval time.Duration
	// RefreshMargin is how close to expiry a session is refreshed.
	RefreshMargin time.Duration

	MinPasswordLength int
	// AllowedRedirects lists extra origins emailed links may send users to.
	AllowedRedirects []string
}

// AccountStore is the account persistence the provider needs.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	Save(ctx context.Context, a account.Account) error
}

// TokenStore is the one-time token persistence the provider needs.
type TokenStore interface {
	Save(ctx context.Context, token account.AuthToken) error
	GetByHash(ctx context.Context, kind account.TokenKind, hash string) (account.AuthToken, error)
	Redeem(ctx context.Context, id string) error
	LatestForAccount(ctx context.Context, accountID string, kind account.TokenKind) (account.AuthToken, error)
	InvalidateForAccount(ctx context.Context, accountID string, kind account.TokenKind) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore is the device session persistence the provider needs.
type SessionStore interface {
	Get(ctx context.Context, deviceID string) (account.DeviceSession, error)
	Save(ctx context.Context, s account.DeviceSession) error
	Delete(ctx context.Context, deviceID string) error
	DeleteForAccount(ctx context.Context, accountID string) ([]string, error)
}

// Deps holds the provider's collaborators.
type Deps struct {
	Accounts AccountStore
	Tokens   TokenStore
	Sessions SessionStore
	Sender   email.Sender
	Clock    clockwork.Clock
}

// Server is the identity provider shared by every page session.
type Server struct {
	cfg    Config
	deps   Deps
	site   *url.URL
	tokens *tokenIssuer
	hub    *hub
}

// NewServer validates cfg, fills defaults and returns a provider.
// PRE: cfg.SiteURL is absolute; cfg.SigningKey has at least 32 bytes
func NewServer(cfg Config, deps Deps) (*Server, error) {
	site, err := url.Parse(cfg.SiteURL)
	if err != nil || site.Scheme == "" || site.Host == "" {
		return nil, fmt.Errorf("site URL %q must be absolute", cfg.SiteURL)
	}
	if cfg.Mode == "" {
		cfg.Mode = identity.DeliveryImplicit
	}
	if _, err := identity.ParseDeliveryMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Sender == nil {
		deps.Sender = email.NewNoopSender()
	}
	cfg.AccessTokenTTL = orDefault(cfg.AccessTokenTTL, DefaultAccessTokenTTL)
	cfg.RecoveryTokenTTL = orDefault(cfg.RecoveryTokenTTL, DefaultRecoveryTokenTTL)
	cfg.ExchangeCodeTTL = orDefault(cfg.ExchangeCodeTTL, DefaultExchangeCodeTTL)
	cfg.ResetInterval = orDefault(cfg.ResetInterval, DefaultResetInterval)
	cfg.RefreshInterval = orDefault(cfg.RefreshInterval, DefaultRefreshInterval)
	cfg.RefreshMargin = orDefault(cfg.RefreshMargin, DefaultRefreshMargin)
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = account.MinPasswordLength
	}

	ti, err := newTokenIssuer(cfg.SigningKey, deps.Clock)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, deps: deps, site: site, tokens: ti, hub: newHub()}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Mode returns the configured delivery mode.
func (s *Server) Mode() identity.DeliveryMode {
	return s.cfg.Mode
}

// SiteURL returns the public base URL.
func (s *Server) SiteURL() string {
	return s.site.String()
}

// NewClient returns the provider handle for one page session on a device.
func (s *Server) NewClient(deviceID string) *Client {
	return newClient(s, deviceID)
}

// currentSession returns the device's session, dropping it if it has expired
// or no longer verifies.
func (s *Server) currentSession(ctx context.Context, deviceID string) (*identity.Session, error) {
	ds, err := s.deps.Sessions.Get(ctx, deviceID)
	if errors.Is(err, sessionStore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if _, err := s.tokens.parse(ds.AccessToken); err != nil {
		slog.Info("auth_event", "event", "session_expired", "device", deviceID, "reason", err.Error())
		if err := s.deps.Sessions.Delete(ctx, deviceID); err != nil {
			return nil, fmt.Errorf("drop expired session: %w", err)
		}
		s.hub.publish(deviceID, identity.Event{Kind: identity.EventSignedOut})
		return nil, nil
	}
	return toSession(ds), nil
}

func toSession(ds account.DeviceSession) *identity.Session {
	return &identity.Session{
		UserID:      ds.AccountID,
		Email:       ds.Email,
		AccessToken: ds.AccessToken,
		ExpiresAt:   ds.ExpiresAt,
		Recovery:    ds.Recovery,
	}
}

// establish issues a token, stores it as the device's session and returns it.
func (s *Server) establish(ctx context.Context, deviceID string, acct account.Account, recovery bool) (*identity.Session, error) {
	scope, ttl := ScopeSession, s.cfg.AccessTokenTTL
	if recovery {
		scope = ScopeRecovery
	}
	token, expiresAt, err := s.tokens.issue(acct.ID, acct.Email, scope, "", ttl)
	if err != nil {
		return nil, err
	}
	ds := account.DeviceSession{
		DeviceID:    deviceID,
		AccountID:   acct.ID,
		Email:       acct.Email,
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Recovery:    recovery,
		UpdatedAt:   s.deps.Clock.Now(),
	}
	if err := s.deps.Sessions.Save(ctx, ds); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return toSession(ds), nil
}

// signIn checks a password with the account lockout rules.
// PRE: email and password are non-empty
// POST: On success the device holds a new session and SIGNED_IN is published
func (s *Server) signIn(ctx context.Context, deviceID, emailAddr, password string) (*identity.Session, error) {
	now := s.deps.Clock.Now()
	acct, err := s.deps.Accounts.GetByEmail(ctx, account.NormalizeEmail(emailAddr))
	if errors.Is(err, accountStore.ErrNotFound) {
		slog.Info("auth_event", "event", "login_failed", "email", emailAddr, "reason", "not_found")
		return nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	if acct.IsLocked(now) {
		slog.Info("auth_event", "event", "login_blocked", "email", acct.Email, "reason", "locked")
		return nil, identity.ErrAccountLocked
	}

	if err := acct.CheckPassword(password); err != nil {
		acct.RecordFailedLogin(now)
		if err := s.deps.Accounts.Save(ctx, acct); err != nil {
			slog.Error("record_failed_login", "error", err)
		}
		slog.Info("auth_event", "event", "login_failed", "email", acct.Email, "reason", "wrong_password", "failed_logins", acct.FailedLogins)
		return nil, identity.ErrInvalidCredentials
	}

	if acct.FailedLogins > 0 || !acct.LockedUntil.IsZero() {
		acct.ResetFailedLogins()
		if err := s.deps.Accounts.Save(ctx, acct); err != nil {
			slog.Error("reset_failed_logins", "error", err)
		}
	}

	session, err := s.establish(ctx, deviceID, acct, false)
	if err != nil {
		return nil, err
	}
	slog.Info("auth_event", "event", "login_success", "email", acct.Email, "role", acct.Role)
	s.hub.publish(deviceID, identity.Event{Kind: identity.EventSignedIn, Session: session})
	return session, nil
}

// signUp creates a teacher account and signs the device in.
// POST: The account exists and the device holds its session
func (s *Server) signUp(ctx context.Context, deviceID, emailAddr, password string) (identity.SignUpResult, error) {
	addr := account.NormalizeEmail(emailAddr)
	if !validEmail(addr) {
		return identity.SignUpResult{}, identity.ErrInvalidEmail
	}
	if len(password) < s.cfg.MinPasswordLength {
		return identity.SignUpResult{}, identity.ErrWeakPassword
	}
	if _, err := s.deps.Accounts.GetByEmail(ctx, addr); err == nil {
		return identity.SignUpResult{}, identity.ErrUserExists
	} else if !errors.Is(err, accountStore.ErrNotFound) {
		return identity.SignUpResult{}, fmt.Errorf("load account: %w", err)
	}

	acct := account.Account{
		ID:        uuid.New().String(),
		Email:     addr,
		Role:      account.RoleTeacher,
		CreatedAt: s.deps.Clock.Now(),
	}
	if err := acct.Validate(); err != nil {
		return identity.SignUpResult{}, identity.ErrInvalidEmail
	}
	if err := acct.SetPassword(password); err != nil {
		return identity.SignUpResult{}, identity.ErrWeakPassword
	}
	if err := s.deps.Accounts.Save(ctx, acct); err != nil {
		return identity.SignUpResult{}, fmt.Errorf("save account: %w", err)
	}
	slog.Info("auth_event", "event", "account_registered", "email", addr)

	session, err := s.establish(ctx, deviceID, acct, false)
	if err != nil {
		return identity.SignUpResult{}, err
	}
	s.hub.publish(deviceID, identity.Event{Kind: identity.EventSignedIn, Session: session})
	return identity.SignUpResult{User: identity.User{ID: acct.ID, Email: acct.Email}, Session: session}, nil
}

// RequestPasswordReset emails a one-time recovery link. Unknown addresses
// are accepted silently so the endpoint cannot be used to probe accounts.
// POST: At most one link per account per ResetInterval; earlier links are void
func (s *Server) RequestPasswordReset(ctx context.Context, emailAddr string, opts identity.RedirectOptions) error {
	addr := account.NormalizeEmail(emailAddr)
	if !validEmail(addr) {
		return identity.ErrInvalidEmail
	}
	redirectTo, err := s.redirectTarget(opts.RedirectTo)
	if err != nil {
		return err
	}

	acct, err := s.deps.Accounts.GetByEmail(ctx, addr)
	if errors.Is(err, accountStore.ErrNotFound) {
		slog.Info("auth_event", "event", "password_reset_requested", "email", addr, "known", false)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	now := s.deps.Clock.Now()
	latest, err := s.deps.Tokens.LatestForAccount(ctx, acct.ID, account.TokenRecoveryLink)
	if err == nil && now.Sub(latest.CreatedAt) < s.cfg.ResetInterval {
		slog.Info("auth_event", "event", "password_reset_throttled", "email", addr)
		return identity.ErrRateLimited
	}
	if err != nil && !errors.Is(err, tokenStore.ErrNotFound) {
		return fmt.Errorf("load latest token: %w", err)
	}

	if err := s.deps.Tokens.InvalidateForAccount(ctx, acct.ID, account.TokenRecoveryLink); err != nil {
		return fmt.Errorf("invalidate old links: %w", err)
	}
	plain, err := s.saveOneTimeToken(ctx, acct.ID, account.TokenRecoveryLink, s.cfg.RecoveryTokenTTL)
	if err != nil {
		return err
	}

	link := s.verifyLink(plain, redirectTo)
	msg, err := email.RecoveryEmail(acct.Email, link, s.cfg.RecoveryTokenTTL)
	if err != nil {
		return err
	}
	if _, err := s.deps.Sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send recovery email: %w", err)
	}

	slog.Info("auth_event", "event", "password_reset_requested", "email", addr, "known", true)
	return nil
}

func (s *Server) saveOneTimeToken(ctx context.Context, accountID string, kind account.TokenKind, ttl time.Duration) (string, error) {
	plain, err := newOneTimeToken()
	if err != nil {
		return "", err
	}
	hash, err := s.tokens.hash(plain)
	if err != nil {
		return "", err
	}
	now := s.deps.Clock.Now()
	if err := s.deps.Tokens.Save(ctx, account.AuthToken{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		Hash:      hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("save %s: %w", kind, err)
	}
	return plain, nil
}

func (s *Server) verifyLink(token, redirectTo string) string {
	u := *s.site
	u.Path = strings.TrimSuffix(u.Path, "/") + VerifyPath
	u.RawQuery = url.Values{
		"type":        {"recovery"},
		"token":       {token},
		"redirect_to": {redirectTo},
	}.Encode()
	u.Fragment = ""
	return u.String()
}

// Verify redeems an emailed recovery token and returns where the browser
// should be redirected. It never fails: a bad token becomes an error
// fragment on the redirect target.
// POST: A valid token is redeemed exactly once
func (s *Server) Verify(ctx context.Context, linkType, token, redirectTo string) string {
	target, err := s.redirectTarget(redirectTo)
	if err != nil {
		slog.Warn("verify_redirect_rejected", "redirect_to", redirectTo)
		target = s.site.String()
	}

	if linkType != "recovery" || token == "" {
		return s.errorRedirect(target)
	}

	acct, err := s.redeem(ctx, account.TokenRecoveryLink, token)
	if err != nil {
		slog.Info("auth_event", "event", "recovery_link_rejected", "reason", err.Error())
		return s.errorRedirect(target)
	}

	u, _ := url.Parse(target)
	switch s.cfg.Mode {
	case identity.DeliveryPKCE:
		code, err := s.saveOneTimeToken(ctx, acct.ID, account.TokenExchangeCode, s.cfg.ExchangeCodeTTL)
		if err != nil {
			slog.Error("issue_exchange_code", "error", err)
			return s.errorRedirect(target)
		}
		q := u.Query()
		q.Set("code", code)
		u.RawQuery = q.Encode()
		u.Fragment = ""

	default:
		// The jti is itself a one-time token so the fragment can start
		// recovery once.
		grant, err := s.saveOneTimeToken(ctx, acct.ID, account.TokenRecoveryGrant, s.cfg.AccessTokenTTL)
		if err != nil {
			slog.Error("issue_recovery_grant", "error", err)
			return s.errorRedirect(target)
		}
		access, expiresAt, err := s.tokens.issue(acct.ID, acct.Email, ScopeRecovery, grant, s.cfg.AccessTokenTTL)
		if err != nil {
			slog.Error("issue_recovery_token", "error", err)
			return s.errorRedirect(target)
		}
		expiresIn := int(expiresAt.Sub(s.deps.Clock.Now()) / time.Second)
		u.Fragment = ""
		u.RawFragment = ""
		frag := url.Values{
			"access_token": {access},
			"expires_in":   {strconv.Itoa(expiresIn)},
			"token_type":   {"bearer"},
			"type":         {"recovery"},
		}.Encode()
		slog.Info("auth_event", "event", "recovery_link_verified", "email", acct.Email, "mode", s.cfg.Mode)
		return u.String() + "#" + frag
	}

	slog.Info("auth_event", "event", "recovery_link_verified", "email", acct.Email, "mode", s.cfg.Mode)
	return u.String()
}

func (s *Server) errorRedirect(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		u = s.site
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	frag := url.Values{
		"error":             {"access_denied"},
		"error_code":        {"otp_expired"},
		"error_description": {identity.ErrLinkInvalid.Error()},
	}.Encode()
	return clean.String() + "#" + frag
}

// redeem consumes a one-time token and returns its account.
func (s *Server) redeem(ctx context.Context, kind account.TokenKind, plain string) (account.Account, error) {
	hash, err := s.tokens.hash(plain)
	if err != nil {
		return account.Account{}, err
	}
	tok, err := s.deps.Tokens.GetByHash(ctx, kind, hash)
	if err != nil {
		return account.Account{}, identity.ErrLinkInvalid
	}
	if !tok.IsRedeemable(s.deps.Clock.Now()) {
		return account.Account{}, identity.ErrLinkInvalid
	}
	if err := s.deps.Tokens.Redeem(ctx, tok.ID); err != nil {
		return account.Account{}, identity.ErrLinkInvalid
	}
	acct, err := s.deps.Accounts.GetByID(ctx, tok.AccountID)
	if err != nil {
		return account.Account{}, identity.ErrLinkInvalid
	}
	return acct, nil
}

// redirectTarget resolves an emailed link's return address against the
// allowed origins.
func (s *Server) redirectTarget(raw string) (string, error) {
	if raw == "" {
		return s.site.String(), nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", identity.ErrRedirectNotAllowed
	}
	origin := u.Scheme + "://" + u.Host
	if origin == s.site.Scheme+"://"+s.site.Host {
		return raw, nil
	}
	for _, allowed := range s.cfg.AllowedRedirects {
		if strings.TrimSuffix(allowed, "/") == origin {
			return raw, nil
		}
	}
	return "", identity.ErrRedirectNotAllowed
}

// detect processes credentials a recovery redirect left in the location.
// POST: A valid credential leaves the device with a recovery session and
// publishes SIGNED_IN then PASSWORD_RECOVERY
func (s *Server) detect(ctx context.Context, deviceID, location string) error {
	u, err := url.Parse(location)
	if err != nil {
		return nil
	}
	frag, _ := url.ParseQuery(u.Fragment)
	query := u.Query()

	var acct account.Account
	switch {
	case frag.Get("error") != "" || query.Get("error") != "":
		return nil

	case frag.Get("access_token") != "":
		claims, err := s.tokens.parse(frag.Get("access_token"))
		if err != nil {
			return err
		}
		// Only recovery grants travel in a URL.
		if claims.Scope != ScopeRecovery || claims.ID == "" {
			slog.Warn("auth_event", "event", "fragment_token_rejected", "scope", claims.Scope)
			return identity.ErrLinkInvalid
		}
		acct, err = s.redeem(ctx, account.TokenRecoveryGrant, claims.ID)
		if err != nil {
			slog.Info("auth_event", "event", "recovery_grant_rejected", "reason", err.Error())
			return err
		}
		if acct.ID != claims.Subject {
			return identity.ErrLinkInvalid
		}

	case query.Get("code") != "":
		acct, err = s.redeem(ctx, account.TokenExchangeCode, query.Get("code"))
		if err != nil {
			return err
		}

	default:
		return nil
	}

	session, err := s.establish(ctx, deviceID, acct, true)
	if err != nil {
		return err
	}
	slog.Info("auth_event", "event", "recovery_session_started", "email", acct.Email, "device", deviceID)
	s.hub.publish(deviceID, identity.Event{Kind: identity.EventSignedIn, Session: session})
	s.hub.publish(deviceID, identity.Event{Kind: identity.EventPasswordRecovery, Session: session})
	return nil
}

// updatePassword sets a new password for the device's account.
// POST: The recovery scope is cleared and unused recovery links are void.
// Other devices of the account are signed out; this one gets USER_UPDATED
func (s *Server) updatePassword(ctx context.Context, deviceID, newPassword string) error {
	current, err := s.currentSession(ctx, deviceID)
	if err != nil {
		return err
	}
	if current == nil {
		return identity.ErrSessionMissing
	}
	if len(newPassword) < s.cfg.MinPasswordLength {
		return identity.ErrWeakPassword
	}

	acct, err := s.deps.Accounts.GetByID(ctx, current.UserID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct.CheckPassword(newPassword) == nil {
		return identity.ErrSamePassword
	}
	if err := acct.SetPassword(newPassword); err != nil {
		return identity.ErrWeakPassword
	}
	acct.ResetFailedLogins()
	if err := s.deps.Accounts.Save(ctx, acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	for _, kind := range []account.TokenKind{account.TokenRecoveryLink, account.TokenRecoveryGrant} {
		if err := s.deps.Tokens.InvalidateForAccount(ctx, acct.ID, kind); err != nil {
			slog.Error("invalidate_recovery_tokens", "kind", kind, "error", err)
		}
	}
	others, err := s.deps.Sessions.DeleteForAccount(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	session, err := s.establish(ctx, deviceID, acct, false)
	if err != nil {
		return err
	}
	slog.Info("auth_event", "event", "password_updated", "email", acct.Email, "recovery", current.Recovery)
	for _, other := range others {
		if other != deviceID {
			s.hub.publish(other, identity.Event{Kind: identity.EventSignedOut})
		}
	}
	s.hub.publish(deviceID, identity.Event{Kind: identity.EventUserUpdated, Session: session})
	return nil
}

// PurgeExpiredTokens deletes one-time tokens that can no longer be redeemed.
func (s *Server) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.deps.Tokens.DeleteExpired(ctx, s.deps.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	if n > 0 {
		slog.Info("auth_tokens_purged", "count", n)
	}
	return n, nil
}

// signOut drops the device's session.
// POST: No session on the device; SIGNED_OUT published to every page session of it
func (s *Server) signOut(ctx context.Context, deviceID string) error {
	if err := s.deps.Sessions.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	slog.Info("auth_event", "event", "logout", "device", deviceID)
	s.hub.publish(deviceID, identity.Event{Kind: identity.EventSignedOut})
	return nil
}

// refresh reissues the device's token when it is close to expiry.
// POST: Returns true if a TOKEN_REFRESHED event was published
func (s *Server) refresh(ctx context.Context, deviceID string) (bool, error) {
	ds, err := s.deps.Sessions.Get(ctx, deviceID)
	if errors.Is(err, sessionStore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := s.deps.Clock.Now()
	if !now.Before(ds.ExpiresAt) {
		_, err := s.currentSession(ctx, deviceID)
		return false, err
	}
	if ds.ExpiresAt.Sub(now) > s.cfg.RefreshMargin {
		return false, nil
	}

	acct, err := s.deps.Accounts.GetByID(ctx, ds.AccountID)
	if err != nil {
		return false, fmt.Errorf("load account: %w", err)
	}
	session, err := s.establish(ctx, deviceID, acct, ds.Recovery)
	if err != nil {
		return false, err
	}
	slog.Debug("auth_event", "event", "token_refreshed", "device", deviceID)
	s.hub.publish(deviceID, identity.Event{Kind: identity.EventTokenRefreshed, Session: session})
	return true, nil
}

func validEmail(addr string) bool {
	at := strings.LastIndex(addr, "@")
	return at > 0 && at < len(addr)-1 && len(addr) <= account.MaxEmailLength && !strings.ContainsAny(addr, " \t\r\n")
}
