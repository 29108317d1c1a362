// Package auth provides OAuth2 grants against the Zoho accounts server.
// It wraps golang.org/x/oauth2 so that provider failures keep the raw JSON
// payload returned by Zoho, which callers relay back to their clients.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

const (
	// DefaultAccountsURL is the Zoho accounts server for the US data center.
	DefaultAccountsURL = "https://accounts.zoho.com"
	// TokenPath is the token endpoint path on the accounts server.
	TokenPath = "/oauth/v2/token"
	// AuthPath is the consent page path on the accounts server.
	AuthPath = "/oauth/v2/auth"

	// HeaderPrefix is the scheme Zoho expects in the Authorization header.
	HeaderPrefix = "Zoho-oauthtoken "
)

// Grant types, as sent in the grant_type form field.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// Scopes requested when building a consent URL for a new grant code.
var Scopes = []string{
	"ZohoCRM.modules.contacts.CREATE",
	"ZohoCRM.modules.deals.CREATE",
}

// Credentials holds the OAuth client registration for the Zoho API console.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// Code is the one-time grant code generated for a self client.
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// OAuthConfig returns the oauth2 configuration for the given accounts server.
// Client credentials are sent as form parameters, which is what Zoho accepts.
func (c *Credentials) OAuthConfig(accountsURL string) *oauth2.Config {
	if accountsURL == "" {
		accountsURL = DefaultAccountsURL
	}
	accountsURL = strings.TrimRight(accountsURL, "/")

	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   accountsURL + AuthPath,
			TokenURL:  accountsURL + TokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Grant is the result of a successful token exchange.
type Grant struct {
	AccessToken  string
	RefreshToken string
	// APIDomain is the data-center specific base URL for CRM calls.
	APIDomain string
}

// ProviderError reports a failed exchange with the accounts server.
// Payload holds the provider's JSON body when one was returned, or a generic
// {"error": "..."} object for transport failures.
type ProviderError struct {
	Grant   string
	Payload map[string]any
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s exchange failed: %v", e.Grant, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// newProviderError keeps the raw provider body as the payload. oauth2 only
// exposes it on a RetrieveError, so body is the recorded response for replies
// it rejects otherwise, such as a 200 without an access_token.
func newProviderError(grant string, err error, body []byte) *ProviderError {
	pe := &ProviderError{Grant: grant, Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && len(re.Body) > 0 {
		body = re.Body
	}
	if len(body) > 0 {
		var payload map[string]any
		if json.Unmarshal(body, &payload) == nil && len(payload) > 0 {
			pe.Payload = payload
		} else {
			pe.Payload = map[string]any{"error": err.Error(), "response": string(body)}
		}
	}
	if pe.Payload == nil {
		pe.Payload = map[string]any{"error": err.Error()}
	}
	return pe
}

// responseRecorder keeps the last response body seen on the token endpoint.
type responseRecorder struct {
	base http.RoundTripper

	mu   sync.Mutex
	body []byte
}

func (rr *responseRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rr.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	rr.mu.Lock()
	rr.body = data
	rr.mu.Unlock()
	return resp, nil
}

func (rr *responseRecorder) last() []byte {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.body
}

// recordResponses wraps the oauth2 HTTP client carried by ctx so the token
// response body stays available after oauth2 has consumed it.
func recordResponses(ctx context.Context) (context.Context, *responseRecorder) {
	client := http.DefaultClient
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		client = c
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rr := &responseRecorder{base: base}

	wrapped := *client
	wrapped.Transport = rr
	return context.WithValue(ctx, oauth2.HTTPClient, &wrapped), rr
}

// WithHTTPClient returns a context that makes oauth2 use the given client
// for token requests.
func WithHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// Exchange trades an authorization code for an access/refresh token pair.
func Exchange(ctx context.Context, config *oauth2.Config, code string) (*Grant, error) {
	ctx, rr := recordResponses(ctx)
	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, newProviderError(GrantAuthorizationCode, err, rr.last())
	}
	return grantFromToken(tok), nil
}

// Refresh mints a new access token from a refresh token.
func Refresh(ctx context.Context, config *oauth2.Config, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, newProviderError(GrantRefreshToken, errors.New("refresh token is empty"), nil)
	}

	ctx, rr := recordResponses(ctx)

	// A token with only the refresh token set is always invalid,
	// so the token source performs the refresh grant.
	src := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, newProviderError(GrantRefreshToken, err, rr.last())
	}

	g := grantFromToken(tok)
	// Zoho does not rotate refresh tokens.
	if g.RefreshToken == "" {
		g.RefreshToken = refreshToken
	}
	return g, nil
}

func grantFromToken(tok *oauth2.Token) *Grant {
	g := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if domain, ok := tok.Extra("api_domain").(string); ok {
		g.APIDomain = domain
	}
	return g
}

// ConsentURL returns the accounts server page where a user grants offline
// access and obtains a new grant code.
func ConsentURL(config *oauth2.Config, state string) string {
	return config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// AuthorizationHeader returns the Authorization header value for an access token.
func AuthorizationHeader(accessToken string) string {
	return HeaderPrefix + accessToken
}

// TruncateToken shortens a token for log output.
func TruncateToken(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
