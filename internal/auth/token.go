// Package auth issues and verifies the bearer tokens of the operations API.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/dbmaintain/dbmaintain/internal/rbac"
)

const tokenName = "dbmaintain_token"

var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Token is the signed and encrypted payload of a bearer token.
type Token struct {
	Subject   string    `json:"sub"`
	Role      rbac.Role `json:"role"`
	ExpiresAt time.Time `json:"exp"`
}

type TokenManager struct {
	cookie *securecookie.SecureCookie
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager derives the hash and block keys from key, which must be at
// least 32 bytes.
func NewTokenManager(key []byte, ttl time.Duration) *TokenManager {
	sc := securecookie.New(key, key[:32])
	sc.MaxAge(int(ttl.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &TokenManager{cookie: sc, ttl: ttl, now: time.Now}
}

func (m *TokenManager) Issue(subject string, role rbac.Role) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	return m.cookie.Encode(tokenName, Token{Subject: subject, Role: role, ExpiresAt: m.now().Add(m.ttl).UTC()})
}

func (m *TokenManager) Verify(raw string) (*Token, error) {
	var tok Token
	if err := m.cookie.Decode(tokenName, raw, &tok); err != nil {
		return nil, ErrUnauthorized
	}
	if m.now().After(tok.ExpiresAt) {
		return nil, ErrUnauthorized
	}
	return &tok, nil
}

// Authenticate reads the bearer token of r.
func (m *TokenManager) Authenticate(r *http.Request) (*Token, error) {
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || raw == "" {
		return nil, ErrUnauthorized
	}
	return m.Verify(strings.TrimSpace(raw))
}

type contextKey string

const tokenKey contextKey = "dbmaintain-token"

func WithToken(ctx context.Context, tok *Token) context.Context {
	return context.WithValue(ctx, tokenKey, tok)
}

func TokenFromContext(ctx context.Context) (*Token, bool) {
	tok, ok := ctx.Value(tokenKey).(*Token)
	return tok, ok && tok != nil
}
