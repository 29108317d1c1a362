// Package cli provides tests for the CLI commands and wiring helpers.
package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zoho-crm-bridge/internal/config"
	"zoho-crm-bridge/internal/crm"
	"zoho-crm-bridge/internal/logger"
	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/internal/token"
	"zoho-crm-bridge/internal/zohotest"
	"zoho-crm-bridge/pkg/auth"
)

func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func TestLocalSessionPath(t *testing.T) {
	tests := []struct {
		name       string
		flag       string
		configured string
		expected   string
	}{
		{"flag wins", "/tmp/flag.json", "/tmp/env.json", "/tmp/flag.json"},
		{"configured", "", "/tmp/env.json", "/tmp/env.json"},
		{"default", "", "", session.DefaultFilePath()},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := localSessionPath(tc.flag, tc.configured); got != tc.expected {
				t.Errorf("localSessionPath() = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		check   func(session.Store) bool
	}{
		{"memory", config.BackendMemory, func(s session.Store) bool { _, ok := s.(*session.MemoryStore); return ok }},
		{"file", config.BackendFile, func(s session.Store) bool { _, ok := s.(*session.FileStore); return ok }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Session.Backend = tc.backend
			cfg.Session.File = filepath.Join(t.TempDir(), "s.json")

			store, closeFn, err := newStore(context.Background(), cfg)
			if err != nil {
				t.Fatalf("newStore() error: %v", err)
			}
			if closeFn != nil {
				t.Errorf("newStore() returned a close func for %s", tc.backend)
			}
			if !tc.check(store) {
				t.Errorf("newStore() = %T, unexpected type for %s", store, tc.backend)
			}
		})
	}
}

func TestOpenApp_ClosesStore(t *testing.T) {
	tests := []struct {
		name         string
		secret       bool
		wantErr      bool
		closedOnOpen bool
	}{
		{"app built keeps store open", false, false, false},
		{"app failure closes store", true, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			closed := 0
			openStore = func(context.Context, *config.Config) (session.Store, func() error, error) {
				return session.NewMemoryStore(), func() error { closed++; return nil }, nil
			}
			t.Cleanup(func() { openStore = newStore })

			cfg := &config.Config{}
			if tc.secret {
				t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(t.TempDir(), "missing.json"))
				cfg.Zoho.SecretProject = "my-project"
				cfg.Zoho.SecretName = "zoho-oauth"
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			a, err := openApp(ctx, cfg, logger.Nop())
			if (err != nil) != tc.wantErr {
				t.Fatalf("openApp() error = %v, wantErr %v", err, tc.wantErr)
			}
			if got := closed == 1; got != tc.closedOnOpen {
				t.Errorf("store closed after openApp = %v, want %v", got, tc.closedOnOpen)
			}
			if err != nil {
				return
			}

			if err := a.Close(); err != nil {
				t.Fatalf("Close() error: %v", err)
			}
			if closed != 1 {
				t.Errorf("store closed %d times after Close(), want 1", closed)
			}
		})
	}
}

func TestCRMDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Contact.Company = "FOP"
	cfg.Deal.Stage = "Needs Analysis"
	cfg.Fallback.ContactID = "5579542000000407271"
	cfg.Fallback.OwnerID = "5579542000000397001"

	d := crmDefaults(cfg)
	if d.Contact.Company != "FOP" || d.Deal.Stage != "Needs Analysis" {
		t.Errorf("crmDefaults() = %+v, field values not copied", d)
	}
	if d.FallbackContactID != "5579542000000407271" || d.FallbackOwnerID != "5579542000000397001" {
		t.Errorf("fallback ids = %q/%q", d.FallbackContactID, d.FallbackOwnerID)
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name: "login failure",
			err: errors.Join(token.ErrLoginFailed, &auth.ProviderError{
				Grant: auth.GrantAuthorizationCode, Payload: map[string]any{"error": "invalid_code"}, Err: errors.New("oauth2")}),
			contains: []string{"not logged in", `"invalid_code"`},
		},
		{
			name:     "crm failure",
			err:      &crm.RequestError{Module: crm.ModuleDeals, StatusCode: 500, Body: []byte(`{"code":"INTERNAL_ERROR"}`)},
			contains: []string{"Deals", "INTERNAL_ERROR"},
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			contains: []string{"boom"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := describeError(tc.err)
			if !errors.Is(got, tc.err) {
				t.Errorf("describeError() does not wrap the original error")
			}
			for _, s := range tc.contains {
				if !strings.Contains(got.Error(), s) {
					t.Errorf("describeError() = %q, want it to contain %q", got.Error(), s)
				}
			}
		})
	}
}

// setupCommandEnv points the configuration at a fake Zoho server and returns
// the session file used by the local commands.
func setupCommandEnv(t *testing.T) (*zohotest.Server, string) {
	t.Helper()

	zoho := zohotest.New(t)
	t.Setenv("ZOHO_CLIENT_ID", zohotest.ClientID)
	t.Setenv("ZOHO_CLIENT_SECRET", zohotest.ClientSecret)
	t.Setenv("ZOHO_AUTH_CODE", zohotest.GrantCode)
	t.Setenv("ZOHO_REDIRECT_URI", zohotest.RedirectURI)
	t.Setenv("ZOHO_ACCOUNTS_URL", zoho.URL)
	t.Setenv("ZOHO_API_DOMAIN", zoho.URL)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")

	path := filepath.Join(t.TempDir(), session.DefaultFileName)
	return zoho, path
}

func execute(t *testing.T, args ...string) error {
	t.Helper()

	sessionFile = ""
	contactCompany, contactFirstName, contactLastName, contactEmail, contactState = "", "", "", "", ""
	dealOwner, dealDescription, dealContact, dealName, dealStage = "", "", "", "", ""

	RootCmd.SetArgs(args)
	return RootCmd.ExecuteContext(context.Background())
}

func TestCommands_ContactThenDeal(t *testing.T) {
	zoho, path := setupCommandEnv(t)

	if err := execute(t, "contact", "create", "--session-file", path, "-c", "Globex"); err != nil {
		t.Fatalf("contact create error: %v", err)
	}
	if got := zoho.LastContact()["Company"]; got != "Globex" {
		t.Errorf("Company = %v, want Globex", got)
	}

	if err := execute(t, "deal", "create", "--session-file", path, "-n", "Big"); err != nil {
		t.Fatalf("deal create error: %v", err)
	}
	contact, _ := zoho.LastDeal()["Contact_Name"].(map[string]any)
	if contact["id"] != zohotest.ContactID {
		t.Errorf("deal Contact_Name = %v, want the contact created before", contact)
	}
	if n := zoho.Count(zohotest.EventCodeExchange); n != 1 {
		t.Errorf("code exchanges = %d, want 1 across both commands", n)
	}

	st, err := session.NewFileStore(path).Load(context.Background(), cliSessionID)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if st.LastContactID != zohotest.ContactID {
		t.Errorf("LastContactID = %q, want %q", st.LastContactID, zohotest.ContactID)
	}
}

func TestCommands_Logout(t *testing.T) {
	_, path := setupCommandEnv(t)

	if err := execute(t, "login", "--session-file", path); err != nil {
		t.Fatalf("login error: %v", err)
	}
	if err := execute(t, "logout", "--session-file", path); err != nil {
		t.Fatalf("logout error: %v", err)
	}

	_, err := session.NewFileStore(path).Load(context.Background(), cliSessionID)
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Load() after logout error = %v, want ErrNotFound", err)
	}
}

func TestCommands_LoginFailure(t *testing.T) {
	zoho, path := setupCommandEnv(t)
	zoho.SetFailLogin(true)

	err := execute(t, "contact", "create", "--session-file", path)
	if !errors.Is(err, token.ErrLoginFailed) {
		t.Fatalf("contact create error = %v, want ErrLoginFailed", err)
	}
	if !strings.Contains(err.Error(), "invalid_code") {
		t.Errorf("error = %q, want the provider payload", err.Error())
	}
	if n := zoho.Count(zohotest.EventContact); n != 0 {
		t.Errorf("contact calls = %d, want 0", n)
	}
}

func TestCommands_Refresh(t *testing.T) {
	zoho, path := setupCommandEnv(t)

	if err := execute(t, "refresh", "--session-file", path); err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if n := zoho.Count(zohotest.EventRefresh); n != 1 {
		t.Errorf("refreshes = %d, want 1", n)
	}
}
