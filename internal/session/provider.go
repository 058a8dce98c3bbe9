package session

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Provider exposes the current identity and bearer credential owned by the
// external auth flow, plus a change signal. The channel client reconnects
// whenever the credential changes.
type Provider interface {
	UserID() string
	Token() string
	Changes() <-chan struct{}
}

// TokenProvider derives the user id from the bearer token's subject claim.
// The token is parsed unverified: signature verification is the server's
// job, the client only needs the identity for room joins.
type TokenProvider struct {
	mu      sync.RWMutex
	userID  string
	token   string
	changes chan struct{}
}

func NewTokenProvider() *TokenProvider {
	return &TokenProvider{changes: make(chan struct{}, 1)}
}

// SetToken installs a new bearer credential and notifies watchers.
func (p *TokenProvider) SetToken(raw string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return fmt.Errorf("parse bearer token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("bearer token has no subject claim")
	}

	p.mu.Lock()
	p.userID = sub
	p.token = raw
	p.mu.Unlock()

	p.notify()
	return nil
}

// Clear drops the credential (sign-out) and notifies watchers.
func (p *TokenProvider) Clear() {
	p.mu.Lock()
	p.userID = ""
	p.token = ""
	p.mu.Unlock()

	p.notify()
}

func (p *TokenProvider) UserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

func (p *TokenProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

func (p *TokenProvider) Changes() <-chan struct{} {
	return p.changes
}

func (p *TokenProvider) notify() {
	select {
	case p.changes <- struct{}{}:
	default: // a pending signal already covers this change
	}
}

// StaticProvider is a fixed identity for tests and the simulation harness.
type StaticProvider struct {
	ID     string
	Bearer string
}

func (s StaticProvider) UserID() string           { return s.ID }
func (s StaticProvider) Token() string            { return s.Bearer }
func (s StaticProvider) Changes() <-chan struct{} { return nil }
