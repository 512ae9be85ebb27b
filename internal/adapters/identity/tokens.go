package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/zeebo/blake3"
)

// Token scopes carried in access tokens.
const (
	ScopeSession  = "session"
	ScopeRecovery = "recovery"
)

const issuer = "absences"

// ErrInvalidToken is returned for any access token that does not verify.
var ErrInvalidToken = errors.New("invalid access token")

// Claims are the claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Scope string `json:"scope"`
}

// tokenIssuer signs access tokens and hashes one-time tokens with one key.
type tokenIssuer struct {
	key   []byte
	clock clockwork.Clock
}

func newTokenIssuer(key []byte, clk clockwork.Clock) (*tokenIssuer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(key))
	}
	return &tokenIssuer{key: key, clock: clk}, nil
}

// issue signs an access token for an account. A non-empty id becomes the
// jti claim.
func (ti *tokenIssuer) issue(accountID, email, scope, id string, ttl time.Duration) (string, time.Time, error) {
	now := ti.clock.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: email,
		Scope: scope,
	})
	signed, err := token.SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// parse verifies an access token against the issuer's clock.
func (ti *tokenIssuer) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// hash returns the keyed BLAKE3 digest stored in place of a one-time token.
func (ti *tokenIssuer) hash(token string) (string, error) {
	hasher, err := blake3.NewKeyed(ti.key[:32])
	if err != nil {
		return "", fmt.Errorf("init token hasher: %w", err)
	}
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// newOneTimeToken returns a fresh random URL-safe token.
func newOneTimeToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
