package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"zoho-crm-bridge/internal/crm"
	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/internal/token"
	"zoho-crm-bridge/pkg/auth"
)

// Reply messages.
const (
	msgNotLoggedIn   = "You are not logged in. Kindly update credentials."
	msgRefreshFailed = "Something went wrong."
	msgTokenUpdated  = "Access token updated."
	msgLoggedIn      = "Logged in."
	msgLoggedOut     = "Logged out. Kindly update credentials to use the system again."
	msgNoSession     = "Session is unavailable. Try again later."
)

// envelope is the JSON body of every reply. Status is 1 on success, 0 on failure.
type envelope struct {
	Status       int    `json:"status"`
	Message      any    `json:"message"`
	NewUserID    string `json:"new_user_id,omitempty"`
	NewDealID    string `json:"new_deal_id,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	ZohoMessage  any    `json:"zoho_message,omitempty"`
	ZohoResponse any    `json:"zoho_response,omitempty"`
	RawRequest   any    `json:"raw_request,omitempty"`
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	st := mustState(r)

	fields, err := requestFields(r)
	if err != nil {
		s.writeJSON(w, envelope{Status: 0, Message: err.Error(), RawRequest: rawRequest(r)})
		return
	}

	created, err := s.bridge.CreateContact(r.Context(), st, crm.ContactInput{
		Company:   fields["company"],
		FirstName: fields["First_Name"],
		LastName:  fields["Last_Name"],
		Email:     fields["Email"],
		State:     fields["State"],
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, envelope{Status: 1, Message: created.Raw, NewUserID: created.ID})
}

func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request) {
	st := mustState(r)

	fields, err := requestFields(r)
	if err != nil {
		s.writeJSON(w, envelope{Status: 0, Message: err.Error(), RawRequest: rawRequest(r)})
		return
	}

	created, err := s.bridge.CreateDeal(r.Context(), st, crm.DealInput{
		OwnerID:     fields["Owner"],
		Description: fields["Description"],
		ContactID:   fields["Contact_Name"],
		DealName:    fields["Deal_Name"],
		Stage:       fields["Stage"],
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, envelope{Status: 1, Message: created.Raw, NewDealID: created.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	lease, err := s.bridge.Login(r.Context(), mustState(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, envelope{Status: 1, Message: msgLoggedIn, AccessToken: lease.AccessToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.bridge.Logout(mustState(r))
	s.writeJSON(w, envelope{Status: 1, Message: msgLoggedOut})
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	lease, err := s.bridge.Refresh(r.Context(), mustState(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, envelope{Status: 1, Message: msgTokenUpdated, AccessToken: lease.AccessToken})
}

// writeFailure maps an operation error to its failure envelope.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *crm.RequestError

	switch {
	case errors.Is(err, token.ErrLoginFailed):
		s.writeJSON(w, envelope{Status: 0, Message: msgNotLoggedIn, ZohoMessage: providerPayload(err)})
	case errors.Is(err, token.ErrRefreshFailed):
		s.writeJSON(w, envelope{Status: 0, Message: msgRefreshFailed, ZohoResponse: providerPayload(err)})
	case errors.As(err, &reqErr):
		s.writeJSON(w, envelope{Status: 0, Message: reqErr.Error(), RawRequest: rawRequest(r)})
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected operation error")
		s.writeJSON(w, envelope{Status: 0, Message: err.Error()})
	}
}

func (s *Server) writeSessionFailure(w http.ResponseWriter, r *http.Request, err error) {
	s.writeJSON(w, envelope{Status: 0, Message: msgNoSession})
}

func (s *Server) writeJSON(w http.ResponseWriter, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

// mustState returns the request's session state. The session middleware
// always attaches one; a bare state keeps handlers usable without it.
func mustState(r *http.Request) *session.State {
	if st, ok := session.FromContext(r.Context()); ok {
		return st
	}
	return &session.State{}
}

func providerPayload(err error) map[string]any {
	var pe *auth.ProviderError
	if errors.As(err, &pe) {
		return pe.Payload
	}
	return map[string]any{"error": err.Error()}
}

// rawRequest returns the query parameters, first value per key.
func rawRequest(r *http.Request) map[string]string {
	out := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// requestFields collects input fields from the query string, a form body or a
// JSON object body. JSON and form values win over query values.
func requestFields(r *http.Request) (map[string]string, error) {
	fields := rawRequest(r)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		for k, v := range body {
			switch val := v.(type) {
			case nil:
			case string:
				fields[k] = val
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		return fields, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}
