package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/model"
)

// CookieName is the HttpOnly cookie holding the session token.
const CookieName = "jwt"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A plain string key could be
// read or shadowed by any package that knows the string. A package-private
// type means only this package can read or write these values.
type contextKey string

const sessionKey contextKey = "session"

var (
	errNoToken     = errors.New("auth: no session token")
	errUnknownUser = errors.New("auth: token subject does not exist")
	errUserLookup  = errors.New("auth: loading token subject")
)

// UserLookup is the part of repository.UserRepository the authenticator
// needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Authenticator resolves request credentials into a Session.
type Authenticator struct {
	tokens  *TokenService
	revoker Revoker
	users   UserLookup
	logger  *slog.Logger
}

func NewAuthenticator(tokens *TokenService, revoker Revoker, users UserLookup, logger *slog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, revoker: revoker, users: users, logger: logger}
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the token from the "jwt" cookie (or an Authorization: Bearer
// header for non-browser clients), validates it, rejects revoked tokens and
// tokens whose user no longer exists, and stores the Session in the request
// context. Otherwise it answers 401 {"error":"Unauthorized"} and stops the
// chain. A failed user lookup is a 500, not a 401.
//
// MIDDLEWARE PATTERN IN GO:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... before ...
//	        next.ServeHTTP(w, r)
//	        // ... after ...
//	    })
//	}
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := a.Authenticate(r)
		if errors.Is(err, errUserLookup) {
			a.logger.Error("session check failed", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			if !errors.Is(err, errNoToken) {
				a.logger.Debug("rejected session token", "path", r.URL.Path, "error", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// Authenticate validates the request's token without touching the response.
// Logout uses it directly so an invalid token still logs out cleanly.
func (a *Authenticator) Authenticate(r *http.Request) (*Session, error) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil, errNoToken
	}

	session, err := a.tokens.Validate(raw)
	if err != nil {
		return nil, err
	}

	revoked, err := a.revoker.IsRevoked(r.Context(), session.TokenID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, errors.New("auth: token revoked")
	}

	// Signed tokens outlive accounts: a reset database or a switched store
	// with the same secret still accepts them.
	if _, err := a.users.GetByID(r.Context(), session.UserID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, errUnknownUser
		}
		return nil, fmt.Errorf("%w: %w", errUserLookup, err)
	}
	return session, nil
}

// TokenFromRequest returns the session token from the cookie, falling back
// to an Authorization: Bearer header. Empty when neither is present.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// WithSession returns a copy of ctx carrying the session.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session stored by RequireAuth.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}

// UserIDFromContext retrieves the authenticated user's ID from the context.
// Returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.UserID == "" {
		return "", false
	}
	return s.UserID, true
}
