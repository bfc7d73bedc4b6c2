package auth

import (
	"context"
	"log"
	"net/http"
	"strings"
)

type contextKey string

// SessionKey is the context key under which the authenticated session is
// stored.
const SessionKey contextKey = "session"

// RequireSession middleware checks for a valid bearer token in the
// Authorization header, resolves it against the session store, and puts the
// session in the request context for downstream handlers. Returns 401
// Unauthorized if authentication fails.
func RequireSession(store *SessionStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			log.Println("Auth: Missing or malformed Authorization header")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		session, ok := store.Get(token)
		if !ok {
			log.Println("Auth: Unknown or expired session token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The Bearer scheme is case-insensitive per RFC 7235.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	fields := strings.Fields(authHeader)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}

	return fields[1], true
}

// SessionFromContext returns the authenticated session from the context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(SessionKey).(*Session)
	return session, ok
}
