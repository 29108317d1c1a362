package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"zoho-crm-bridge/internal/logger"
	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/internal/zohotest"
	"zoho-crm-bridge/pkg/auth"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, srv *zohotest.Server) (*Manager, *time.Time) {
	t.Helper()
	now := testNow
	m := NewManager(Config{
		Credentials:   srv.Credentials(),
		AccountsURL:   srv.URL,
		TTL:           time.Hour,
		RefreshWindow: time.Hour,
		HTTPClient:    srv.Client(),
		Now:           func() time.Time { return now },
	}, logger.Nop())
	return m, &now
}

func TestEnsure_NoRefreshTokenLogsIn(t *testing.T) {
	srv := zohotest.New(t)
	m, _ := newTestManager(t, srv)
	st := &session.State{}

	lease, err := m.Ensure(context.Background(), st)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	if got := srv.Count(zohotest.EventCodeExchange); got != 1 {
		t.Errorf("code exchanges = %d, want 1", got)
	}
	if got := srv.Count(zohotest.EventRefresh); got != 0 {
		t.Errorf("refreshes = %d, want 0", got)
	}
	if lease.AccessToken != zohotest.AccessToken(1) {
		t.Errorf("lease.AccessToken = %q, want %q", lease.AccessToken, zohotest.AccessToken(1))
	}
	if lease.Header() != "Zoho-oauthtoken "+zohotest.AccessToken(1) {
		t.Errorf("lease.Header() = %q", lease.Header())
	}
	if lease.APIDomain != srv.URL {
		t.Errorf("lease.APIDomain = %q, want %q", lease.APIDomain, srv.URL)
	}
	if st.RefreshToken == "" || st.AccessToken == "" || st.APIDomain == "" {
		t.Errorf("session not populated: %+v", *st)
	}
	if !st.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", st.ExpiresAt, testNow.Add(time.Hour))
	}
}

func TestEnsure_ExpiringSoonRefreshes(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
	}{
		{"already expired", testNow.Add(-time.Minute)},
		{"at the window edge", testNow.Add(time.Hour)},
		{"inside the window", testNow.Add(10 * time.Minute)},
		{"expiry missing", time.Time{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := zohotest.New(t)
			m, _ := newTestManager(t, srv)

			// Seed a session through a real login so the refresh token is known to the fake.
			st := &session.State{}
			if _, err := m.Login(context.Background(), st); err != nil {
				t.Fatalf("Login() error: %v", err)
			}
			st.ExpiresAt = tc.expiresAt

			lease, err := m.Ensure(context.Background(), st)
			if err != nil {
				t.Fatalf("Ensure() error: %v", err)
			}
			if got := srv.Count(zohotest.EventRefresh); got != 1 {
				t.Errorf("refreshes = %d, want 1", got)
			}
			if got := srv.Count(zohotest.EventCodeExchange); got != 1 {
				t.Errorf("code exchanges = %d, want only the seeding one", got)
			}
			if lease.AccessToken != zohotest.AccessToken(2) {
				t.Errorf("lease.AccessToken = %q, want %q", lease.AccessToken, zohotest.AccessToken(2))
			}
			if !st.ExpiresAt.Equal(testNow.Add(time.Hour)) {
				t.Errorf("ExpiresAt = %v, want now+1h", st.ExpiresAt)
			}
		})
	}
}

func TestEnsure_ValidTokenNoExchange(t *testing.T) {
	srv := zohotest.New(t)
	m, _ := newTestManager(t, srv)
	st := &session.State{
		RefreshToken: "1000.refresh-token",
		AccessToken:  "1000.stored",
		APIDomain:    "https://www.zohoapis.eu",
		ExpiresAt:    testNow.Add(2 * time.Hour),
	}

	lease, err := m.Ensure(context.Background(), st)
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if n := len(srv.Events()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
	if lease.AccessToken != "1000.stored" || lease.APIDomain != "https://www.zohoapis.eu" {
		t.Errorf("lease = %+v, want stored values", lease)
	}
}

func TestEnsure_LoginFailureShortCircuits(t *testing.T) {
	srv := zohotest.New(t)
	srv.SetFailLogin(true)
	m, _ := newTestManager(t, srv)
	st := &session.State{}

	_, err := m.Ensure(context.Background(), st)
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("Ensure() error = %v, want ErrLoginFailed", err)
	}

	var pe *auth.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error does not carry *auth.ProviderError: %v", err)
	}
	if pe.Payload["error"] != "invalid_code" {
		t.Errorf("Payload = %v, want provider body", pe.Payload)
	}
	if !st.IsEmpty() {
		t.Errorf("session modified on failed login: %+v", *st)
	}
}

func TestEnsure_RefreshFailureWithUsableToken(t *testing.T) {
	srv := zohotest.New(t)
	m, _ := newTestManager(t, srv)

	st := &session.State{}
	if _, err := m.Login(context.Background(), st); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	srv.SetFailRefresh(true)
	st.ExpiresAt = testNow.Add(30 * time.Minute)

	lease, err := m.Ensure(context.Background(), st)
	if err != nil {
		t.Fatalf("Ensure() error = %v, want stale token to be used", err)
	}
	if lease.AccessToken != zohotest.AccessToken(1) {
		t.Errorf("lease.AccessToken = %q, want the stored token", lease.AccessToken)
	}
	if !st.ExpiresAt.Equal(testNow.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt changed on failed refresh: %v", st.ExpiresAt)
	}
}

func TestEnsure_RefreshFailureWithExpiredToken(t *testing.T) {
	srv := zohotest.New(t)
	m, _ := newTestManager(t, srv)

	st := &session.State{}
	if _, err := m.Login(context.Background(), st); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	srv.SetFailRefresh(true)
	st.ExpiresAt = testNow.Add(-time.Second)

	_, err := m.Ensure(context.Background(), st)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("Ensure() error = %v, want ErrRefreshFailed", err)
	}
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	srv := zohotest.New(t)
	m, _ := newTestManager(t, srv)

	_, err := m.Refresh(context.Background(), &session.State{})
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("Refresh() error = %v, want ErrNoRefreshToken", err)
	}
	if n := len(srv.Events()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestRefresh_UsesCurrentClock(t *testing.T) {
	srv := zohotest.New(t)
	m, now := newTestManager(t, srv)

	st := &session.State{}
	if _, err := m.Login(context.Background(), st); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	*now = testNow.Add(50 * time.Minute)
	if _, err := m.Refresh(context.Background(), st); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if want := testNow.Add(50*time.Minute + time.Hour); !st.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", st.ExpiresAt, want)
	}
}

func TestExpiringSoon_ShortWindow(t *testing.T) {
	srv := zohotest.New(t)
	m := NewManager(Config{
		Credentials:   srv.Credentials(),
		AccountsURL:   srv.URL,
		RefreshWindow: 5 * time.Minute,
		Now:           func() time.Time { return testNow },
	}, logger.Nop())

	fresh := &session.State{RefreshToken: "r", ExpiresAt: testNow.Add(time.Hour)}
	if m.ExpiringSoon(fresh) {
		t.Error("ExpiringSoon() = true for a token valid for another hour with a 5m window")
	}
	stale := &session.State{RefreshToken: "r", ExpiresAt: testNow.Add(4 * time.Minute)}
	if !m.ExpiringSoon(stale) {
		t.Error("ExpiringSoon() = false for a token expiring in 4m with a 5m window")
	}
}
