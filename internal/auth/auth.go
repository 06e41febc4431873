// Package auth authenticates API callers by bearer token and checks scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Scopes understood by the API.
const (
	ScopeAll            = "*"
	ScopeAuditWrite     = "audit:rw"
	ScopeDestinationsRO = "destinations:ro"
	ScopeDestinationsRW = "destinations:rw"
	ScopeEventsRO       = "events:ro"
)

// impliedBy maps a write scope to the read scope it grants.
var impliedBy = map[string]string{
	ScopeDestinationsRW: ScopeDestinationsRO,
}

var (
	ErrMissingHeader = errors.New("missing Authorization header")
	ErrBadHeader     = errors.New("invalid Authorization header format")
	ErrEmptyToken    = errors.New("missing API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Name   string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken pulls the token out of an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingHeader
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", ErrBadHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// Authenticator matches presented tokens against the configured ones.
type Authenticator struct {
	adminKey string
	tokens   []TokenConfig
}

// NewAuthenticator creates an Authenticator. adminKey, when set, grants every scope.
func NewAuthenticator(adminKey string, tokens []TokenConfig) *Authenticator {
	return &Authenticator{adminKey: adminKey, tokens: tokens}
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a.adminKey != "" || len(a.tokens) > 0
}

// Authenticate returns the principal owning presented.
func (a *Authenticator) Authenticate(presented string) (Principal, bool) {
	if equal(presented, a.adminKey) {
		return Principal{Name: "admin", Scopes: map[string]struct{}{ScopeAll: {}}}, true
	}
	for i, t := range a.tokens {
		if equal(presented, t.Token) {
			return Principal{Name: tokenName(i), Scopes: expand(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

// Allows reports whether p holds any of required.
func (p Principal) Allows(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

func equal(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func expand(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	for s := range out {
		if ro, ok := impliedBy[s]; ok {
			out[ro] = struct{}{}
		}
	}
	return out
}

func tokenName(i int) string {
	return "token-" + strconv.Itoa(i)
}
