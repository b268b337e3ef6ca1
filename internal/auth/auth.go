// Package auth turns request credentials into an Identity carrying the
// caller's permission level.
//
// Credentials are either HTTP Basic (user name + bcrypt-checked password) or
// a bearer token mapped to a user. With guest access enabled, requests
// without an Authorization header pass through as the level-0 guest.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"oasis/internal/config"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("admin permission required")
)

// GuestUID is the owner id of anonymous requests.
const GuestUID int64 = -1

// Identity is the authenticated caller.
type Identity struct {
	User  string
	UID   int64
	Level int
	Admin bool
}

func (id Identity) IsGuest() bool { return id.User == "" }

var guest = Identity{UID: GuestUID}

type ctxKey struct{}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Authenticator checks credentials against the configured users.
type Authenticator struct {
	guest  bool
	users  map[string]config.UserConfig
	tokens map[string]string
	realm  string
}

func New(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		guest:  cfg.Guest,
		users:  make(map[string]config.UserConfig, len(cfg.Users)),
		tokens: make(map[string]string, len(cfg.Tokens)),
		realm:  "oasis",
	}
	for name, u := range cfg.Users {
		a.users[strings.ToLower(name)] = u
	}
	for _, t := range cfg.Tokens {
		a.tokens[t.Token] = strings.ToLower(t.User)
	}
	return a
}

// Authenticate resolves the request's credentials. Invalid credentials are
// always rejected, even when guest access is on.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		if a.guest {
			return guest, nil
		}
		return Identity{}, ErrUnauthorized
	}
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return a.byToken(strings.TrimSpace(tok))
	}
	u, p, ok := parseBasicAuth(h)
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return a.byPassword(u, p)
}

func (a *Authenticator) byToken(tok string) (Identity, error) {
	var user string
	for t, u := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(tok)) == 1 {
			user = u
		}
	}
	if user == "" {
		return Identity{}, ErrUnauthorized
	}
	return a.identity(user)
}

func (a *Authenticator) byPassword(name, pass string) (Identity, error) {
	name = strings.ToLower(name)
	u, ok := a.users[name]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Bcrypt), []byte(pass)); err != nil {
		return Identity{}, ErrUnauthorized
	}
	return a.identity(name)
}

func (a *Authenticator) identity(name string) (Identity, error) {
	u, ok := a.users[name]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return Identity{User: name, UID: u.UID, Level: u.Level, Admin: u.Admin}, nil
}

// Middleware authenticates every request and stores the Identity in its
// context. Failures get a Basic challenge.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			a.Challenge(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Challenge writes a 401 asking for Basic credentials.
func (a *Authenticator) Challenge(w http.ResponseWriter) {
	a.SetChallenge(w.Header())
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// SetChallenge only adds the WWW-Authenticate header, for callers writing
// their own 401 body.
func (a *Authenticator) SetChallenge(h http.Header) {
	h.Set("WWW-Authenticate", `Basic realm="`+a.realm+`"`)
}

// RequireAdmin returns ErrUnauthorized for guests and ErrForbidden for
// signed-in non-admins.
func RequireAdmin(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok || id.IsGuest() {
		return Identity{}, ErrUnauthorized
	}
	if !id.Admin {
		return id, ErrForbidden
	}
	return id, nil
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	s := string(raw)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	u := s[:i]
	p := s[i+1:]
	if u == "" {
		return "", "", false
	}
	if strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}
