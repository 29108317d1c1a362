// Package token manages the Zoho OAuth2 token lifecycle of a session:
// the initial authorization-code exchange, refresh exchanges and expiry tracking.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/pkg/auth"
)

var (
	// ErrLoginFailed wraps a failed authorization-code exchange. It is fatal
	// for the current operation.
	ErrLoginFailed = errors.New("zoho login failed")
	// ErrRefreshFailed wraps a failed refresh exchange when no usable access token remains.
	ErrRefreshFailed = errors.New("zoho token refresh failed")
	// ErrNoRefreshToken is returned by Refresh when the session never logged in.
	ErrNoRefreshToken = errors.New("no refresh token in session")
)

// Lease is the credential attached to outbound CRM calls for one operation.
type Lease struct {
	AccessToken string
	APIDomain   string
}

// Header returns the Authorization header value.
func (l Lease) Header() string {
	return auth.AuthorizationHeader(l.AccessToken)
}

// Config holds the settings for NewManager.
type Config struct {
	Credentials auth.Credentials
	AccountsURL string
	// TTL is the lifetime recorded for every newly issued access token.
	TTL time.Duration
	// RefreshWindow is how long before expiry a token counts as expiring soon.
	RefreshWindow time.Duration
	// HTTPClient is used for token requests; http.DefaultClient when nil.
	HTTPClient *http.Client
	// Now overrides the clock; time.Now when nil.
	Now func() time.Time
}

// Manager performs token exchanges and records the results in session state.
type Manager struct {
	oauth      *oauth2.Config
	code       string
	ttl        time.Duration
	window     time.Duration
	httpClient *http.Client
	now        func() time.Time
	logger     *zerolog.Logger
}

// NewManager creates a token manager.
func NewManager(cfg Config, logger *zerolog.Logger) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Manager{
		oauth:      cfg.Credentials.OAuthConfig(cfg.AccountsURL),
		code:       cfg.Credentials.Code,
		ttl:        ttl,
		window:     cfg.RefreshWindow,
		httpClient: cfg.HTTPClient,
		now:        now,
		logger:     logger,
	}
}

// Ensure returns a usable lease for the session, logging in or refreshing first when needed:
//   - no refresh token: authorization-code exchange; failure returns ErrLoginFailed
//   - token expired or expiring within the refresh window: refresh exchange; on failure the
//     stored token is still used while it has not expired, otherwise ErrRefreshFailed
//   - otherwise the stored access token
func (m *Manager) Ensure(ctx context.Context, st *session.State) (Lease, error) {
	if !st.HasRefreshToken() {
		return m.Login(ctx, st)
	}

	if m.ExpiringSoon(st) {
		lease, err := m.Refresh(ctx, st)
		if err == nil {
			return lease, nil
		}
		if st.AccessTokenValid(m.now()) {
			m.logger.Warn().Err(err).Time("expires_at", st.ExpiresAt).
				Msg("token refresh failed, continuing with current access token")
			return leaseFrom(st), nil
		}
		return Lease{}, err
	}

	return leaseFrom(st), nil
}

// ExpiringSoon reports whether the session's access token is expired or
// expires within the refresh window.
func (m *Manager) ExpiringSoon(st *session.State) bool {
	return st.ExpiresWithin(m.now(), m.window)
}

// Login performs the authorization-code exchange and stores the new token
// pair, API domain and expiry in st. On failure st is left untouched.
func (m *Manager) Login(ctx context.Context, st *session.State) (Lease, error) {
	grant, err := auth.Exchange(m.context(ctx), m.oauth, m.code)
	if err != nil {
		m.logger.Error().Err(err).Msg("zoho authorization-code exchange failed")
		return Lease{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	st.RefreshToken = grant.RefreshToken
	st.APIDomain = grant.APIDomain
	st.AccessToken = grant.AccessToken
	st.ExpiresAt = m.now().Add(m.ttl)

	m.logger.Info().
		Str("access_token", auth.TruncateToken(grant.AccessToken)).
		Bool("refresh_token_present", grant.RefreshToken != "").
		Str("api_domain", grant.APIDomain).
		Msg("zoho login successful")

	return leaseFrom(st), nil
}

// Refresh performs the refresh exchange and overwrites the access token and
// expiry in st. On failure st is left untouched.
func (m *Manager) Refresh(ctx context.Context, st *session.State) (Lease, error) {
	if !st.HasRefreshToken() {
		return Lease{}, ErrNoRefreshToken
	}

	grant, err := auth.Refresh(m.context(ctx), m.oauth, st.RefreshToken)
	if err != nil {
		m.logger.Error().Err(err).Msg("zoho refresh exchange failed")
		return Lease{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	st.AccessToken = grant.AccessToken
	st.ExpiresAt = m.now().Add(m.ttl)
	if grant.APIDomain != "" {
		st.APIDomain = grant.APIDomain
	}

	m.logger.Info().
		Str("access_token", auth.TruncateToken(grant.AccessToken)).
		Time("expires_at", st.ExpiresAt).
		Msg("zoho access token refreshed")

	return leaseFrom(st), nil
}

func (m *Manager) context(ctx context.Context) context.Context {
	return auth.WithHTTPClient(ctx, m.httpClient)
}

func leaseFrom(st *session.State) Lease {
	return Lease{AccessToken: st.AccessToken, APIDomain: st.APIDomain}
}
