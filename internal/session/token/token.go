// Package token mints and verifies the signed session tokens that carry a
// session identifier across the channel handshake.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "reflex"

// ErrInvalidToken indicates the token failed signature or claim checks.
var ErrInvalidToken = errors.New("invalid session token")

// Minter signs and verifies session tokens with an HMAC key.
type Minter struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// NewMinter creates a Minter. The key must be non-empty; ttl of zero means
// tokens do not expire.
func NewMinter(key []byte, ttl time.Duration) (*Minter, error) {
	if len(key) == 0 {
		return nil, errors.New("session token key is required")
	}
	return &Minter{key: key, ttl: ttl, now: time.Now}, nil
}

// Mint signs a token carrying the session id.
func (m *Minter) Mint(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}

	now := m.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		SessionID: sessionID,
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the session id it carries.
func (m *Minter) Verify(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidToken
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", ErrInvalidToken
	}

	sessionID := strings.TrimSpace(parsed.SessionID)
	if sessionID == "" {
		return "", ErrInvalidToken
	}
	return sessionID, nil
}
