// Package auth validates bearer tokens for the ledger API. Validation is
// deliberately cheap to call from every request: concurrent checks of the
// same token are coalesced into one, and positive results are cached for a
// short TTL.
package auth

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/golang-jwt/jwt/v5"
)

// Session is the authenticated identity a valid token resolves to.
type Session struct {
	UserID    string
	ExpiresAt time.Time
}

// Validator resolves a bearer token to a session.
type Validator interface {
	Validate(ctx context.Context, token string) (*Session, error)
}

// JWTValidator validates HS256-signed tokens against a static secret.
type JWTValidator struct {
	secret []byte
}

var _ Validator = (*JWTValidator)(nil)

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(ctx context.Context, tokenString string) (*Session, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.AuthenticationFailed("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, apperrors.AuthenticationFailed("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.AuthenticationFailed("malformed token claims")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, apperrors.AuthenticationFailed("token missing subject claim")
	}

	session := &Session{UserID: subject}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
	}
	return session, nil
}

type cacheEntry struct {
	session   *Session
	expiresAt time.Time
}

type inflightCall struct {
	done    chan struct{}
	session *Session
	err     error
}

// CoalescingValidator wraps another validator with request coalescing and a
// TTL cache of positive results.
//
// A burst of requests carrying the same token performs exactly one
// underlying validation; the rest wait for its outcome. Successful results
// are cached until the TTL elapses or the token itself expires, whichever
// comes first. Failures are never cached, so a retried token is re-checked.
type CoalescingValidator struct {
	inner Validator
	ttl   time.Duration

	mu       sync.Mutex
	cache    map[string]cacheEntry
	inflight map[string]*inflightCall
}

var _ Validator = (*CoalescingValidator)(nil)

func NewCoalescingValidator(inner Validator, ttl time.Duration) *CoalescingValidator {
	return &CoalescingValidator{
		inner:    inner,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]*inflightCall),
	}
}

func (c *CoalescingValidator) Validate(ctx context.Context, token string) (*Session, error) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.cache[token]; ok {
		if now.Before(entry.expiresAt) {
			c.mu.Unlock()
			return entry.session, nil
		}
		delete(c.cache, token)
	}

	if call, ok := c.inflight[token]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.session, call.err
		case <-ctx.Done():
			return nil, apperrors.AuthenticationFailed("validation cancelled")
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	c.inflight[token] = call
	c.mu.Unlock()

	call.session, call.err = c.inner.Validate(ctx, token)

	c.mu.Lock()
	delete(c.inflight, token)
	if call.err == nil {
		expiresAt := now.Add(c.ttl)
		if !call.session.ExpiresAt.IsZero() && call.session.ExpiresAt.Before(expiresAt) {
			expiresAt = call.session.ExpiresAt
		}
		c.cache[token] = cacheEntry{session: call.session, expiresAt: expiresAt}
	}
	c.mu.Unlock()
	close(call.done)

	if call.err != nil {
		logger.GetLogger().Debugw("Token validation failed", "error", call.err)
	}
	return call.session, call.err
}

// Purge drops every cached session, e.g. after a signing key rotation.
func (c *CoalescingValidator) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}
