package session

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CookieOptions configures the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool

	// Fail writes the reply when the session cannot be loaded.
	// A plain 500 is written when nil.
	Fail func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware loads the session named by the cookie, attaches it to the request
// context and persists it once the handler returns. Requests without a valid
// cookie get a fresh session id.
func Middleware(store Store, opts CookieOptions, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id := sessionID(r, opts.Name)
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     opts.Name,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			st, err := LoadOrNew(ctx, store, id)
			if err != nil {
				logger.Error().Err(err).Str("session", shortID(id)).Msg("failed to load session")
				if opts.Fail != nil {
					opts.Fail(w, r, err)
					return
				}
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithState(ctx, st)))

			// The request context may already be cancelled once the client has its reply.
			if err := Persist(context.WithoutCancel(ctx), store, id, st); err != nil {
				logger.Error().Err(err).Str("session", shortID(id)).Msg("failed to save session")
			}
		})
	}
}

// sessionID returns the cookie value when it is a well-formed UUID.
func sessionID(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
