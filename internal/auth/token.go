package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrNoToken      = errors.New("no credential available")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenSource supplies the bearer credential for remote calls. The returned
// token is treated as opaque by everything except OwnerFromToken.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential, typically read from configuration.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// MutableToken holds the credential of the current session; it is swapped on
// sign-in and cleared on sign-out.
type MutableToken struct {
	mu    sync.RWMutex
	token string
}

func (t *MutableToken) Set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

func (t *MutableToken) Token(context.Context) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.token == "" {
		return "", ErrNoToken
	}
	return t.token, nil
}

// OwnerFromToken extracts the subject claim of a JWT without verifying its
// signature. Verification is the server's job; the client only needs the id
// to address its resources.
func OwnerFromToken(token string) (string, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
	if token == "" {
		return "", ErrNoToken
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue signs an HS256 token for owner.
func Issue(secret []byte, owner string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "storefront-devapi",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks the signature and expiry of an HS256 token and returns its
// subject.
func Verify(secret []byte, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
