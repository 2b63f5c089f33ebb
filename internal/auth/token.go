// Package auth issues and verifies the bearer tokens that identify API callers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumina-control/backend/internal/access"
)

// Issuer is the "iss" claim on every token.
const Issuer = "lumina"

// DefaultTTL is the lifetime of a token when none is given.
const DefaultTTL = 24 * time.Hour

// ErrInvalidToken is returned for missing, expired or forged tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by a bearer token.
type Claims struct {
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role"`
	AllowedLamps []string `json:"allowed_lamps,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens creates a token service.
func NewTokens(secret string) (*Tokens, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("JWT secret must be at least 16 characters")
	}
	return &Tokens{secret: []byte(secret), now: time.Now}, nil
}

// Issue mints a token for actor valid for ttl.
func (t *Tokens) Issue(actor access.Actor, ttl time.Duration) (string, time.Time, error) {
	if actor.ID == "" {
		return "", time.Time{}, fmt.Errorf("actor id is required")
	}
	if !actor.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown role %q", actor.Role)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := t.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Name:         actor.Name,
		Role:         string(actor.Role),
		AllowedLamps: actor.AllowedLamps,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies a token and returns the actor it identifies.
func (t *Tokens) Parse(tokenString string) (access.Actor, error) {
	if tokenString == "" {
		return access.Actor{}, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return access.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return access.Actor{}, ErrInvalidToken
	}
	role := access.Role(claims.Role)
	if !role.Valid() || claims.Subject == "" {
		return access.Actor{}, fmt.Errorf("%w: bad subject or role", ErrInvalidToken)
	}

	return access.Actor{
		ID:           claims.Subject,
		Name:         claims.Name,
		Role:         role,
		AllowedLamps: claims.AllowedLamps,
	}, nil
}
