// Package session holds the per-user OAuth and CRM linkage state and the
// stores that persist it between requests.
package session

import (
	"context"
	"time"
)

// State is the data kept for one end-user session.
type State struct {
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	APIDomain    string    `json:"api_domain,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`

	// LastContactID and LastContactOwnerID link deals to the most recently created contact.
	LastContactID      string `json:"last_contact_id,omitempty"`
	LastContactOwnerID string `json:"last_contact_owner_id,omitempty"`
}

// HasRefreshToken reports whether a login already happened for this session.
func (s *State) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// AccessTokenValid reports whether the access token may still be used at now.
func (s *State) AccessTokenValid(now time.Time) bool {
	return s.AccessToken != "" && !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
// A missing expiry counts as expired.
func (s *State) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// Clear removes every key.
func (s *State) Clear() {
	*s = State{}
}

// IsEmpty reports whether no key is set.
func (s *State) IsEmpty() bool {
	return *s == State{}
}

type contextKey string

const stateKey contextKey = "session_state"

// WithState returns a new context carrying the session state of the current request.
func WithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, stateKey, st)
}

// FromContext retrieves the session state from context, if present.
func FromContext(ctx context.Context) (*State, bool) {
	st, ok := ctx.Value(stateKey).(*State)
	return st, ok && st != nil
}
