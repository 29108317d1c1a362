// Package zohotest provides an in-process fake of the Zoho accounts server and
// the CRM v3 record endpoints for tests.
package zohotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"zoho-crm-bridge/pkg/auth"
)

// Event names recorded in call order.
const (
	EventCodeExchange = "authorization_code"
	EventRefresh      = "refresh_token"
	EventContact      = "contacts"
	EventDeal         = "deals"
)

// Default credentials accepted by the fake.
const (
	ClientID     = "1000.TESTCLIENT"
	ClientSecret = "test-secret"
	GrantCode    = "1000.grant-code"
	RedirectURI  = "http://localhost:8080/callback"

	ContactID = "5579542000000500001"
	OwnerID   = "5579542000000397999"
	DealID    = "5579542000000600001"
)

// Server is a fake Zoho backend. The token endpoint returns its own URL as
// api_domain so CRM calls land on the same server.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	events      []string
	issued      int
	failLogin   bool
	failRefresh bool
	failCRM     bool

	refreshToken      string
	lastAuthorization string
	lastContact       map[string]any
	lastDeal          map[string]any
	lastForm          map[string]string
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{refreshToken: "1000.refresh-token"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+auth.TokenPath, s.handleToken)
	mux.HandleFunc("POST /crm/v3/Contacts", s.handleContacts)
	mux.HandleFunc("POST /crm/v3/Deals", s.handleDeals)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Credentials returns client credentials the fake accepts.
func (s *Server) Credentials() auth.Credentials {
	return auth.Credentials{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		Code:         GrantCode,
		RedirectURI:  RedirectURI,
	}
}

// SetFailLogin makes the authorization_code grant return an error payload.
func (s *Server) SetFailLogin(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogin = fail
}

// SetFailRefresh makes the refresh_token grant return an error payload.
func (s *Server) SetFailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetFailCRM makes the record endpoints answer 500.
func (s *Server) SetFailCRM(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCRM = fail
}

// Events returns the recorded calls in order.
func (s *Server) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// Count returns how many times an event was recorded.
func (s *Server) Count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

// LastAuthorization returns the Authorization header of the last CRM call.
func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthorization
}

// LastContact returns the first record of the last Contacts payload.
func (s *Server) LastContact() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastContact
}

// LastDeal returns the first record of the last Deals payload.
func (s *Server) LastDeal() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDeal
}

// LastTokenForm returns the form fields of the last token request.
func (s *Server) LastTokenForm() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

// AccessToken returns the access token issued by the n-th successful grant (1-based).
func AccessToken(n int) string {
	return fmt.Sprintf("1000.access-%d", n)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grant := r.PostForm.Get("grant_type")
	s.events = append(s.events, grant)
	s.lastForm = map[string]string{}
	for k := range r.PostForm {
		s.lastForm[k] = r.PostForm.Get(k)
	}

	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		// Zoho answers 200 with an error body.
		writeJSON(w, http.StatusOK, map[string]any{"error": "invalid_client"})
		return
	}

	switch grant {
	case auth.GrantAuthorizationCode:
		if s.failLogin || r.PostForm.Get("code") != GrantCode {
			writeJSON(w, http.StatusOK, map[string]any{"error": "invalid_code"})
			return
		}
		s.issued++
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  AccessToken(s.issued),
			"refresh_token": s.refreshToken,
			"api_domain":    s.URL,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	case auth.GrantRefreshToken:
		if s.failRefresh || r.PostForm.Get("refresh_token") != s.refreshToken {
			writeJSON(w, http.StatusOK, map[string]any{"error": "invalid_code"})
			return
		}
		s.issued++
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": AccessToken(s.issued),
			"api_domain":   s.URL,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	record, ok := s.readRecord(w, r, EventContact)
	if !ok {
		return
	}

	s.mu.Lock()
	s.lastContact = record
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"data": []any{map[string]any{
			"code": "SUCCESS",
			"details": map[string]any{
				"id":           ContactID,
				"Created_Time": "2026-10-19T10:00:00+03:00",
				"Created_By":   map[string]any{"name": "Test Owner", "id": OwnerID},
			},
			"message": "record added",
			"status":  "success",
		}},
	})
}

func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	record, ok := s.readRecord(w, r, EventDeal)
	if !ok {
		return
	}

	s.mu.Lock()
	s.lastDeal = record
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"data": []any{map[string]any{
			"code": "SUCCESS",
			"details": map[string]any{
				"id":         DealID,
				"Created_By": map[string]any{"name": "Test Owner", "id": OwnerID},
			},
			"message": "record added",
			"status":  "success",
		}},
	})
}

// readRecord records the call and decodes the first record of a {"data": [...]} body.
func (s *Server) readRecord(w http.ResponseWriter, r *http.Request, event string) (map[string]any, bool) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.lastAuthorization = r.Header.Get("Authorization")
	fail := s.failCRM
	s.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"code":    "INTERNAL_ERROR",
			"message": "internal error",
			"status":  "error",
		})
		return nil, false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "INVALID_DATA", "status": "error"})
		return nil, false
	}

	var payload struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Data) != 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "INVALID_DATA", "status": "error"})
		return nil, false
	}
	return payload.Data[0], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
