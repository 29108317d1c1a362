// Package bridge runs the protected Zoho operations against a session: it
// ensures a usable token, calls the CRM and records linkage ids in the session.
// The HTTP routes, the MCP tools and the CLI all go through Service.
package bridge

import (
	"context"

	"github.com/rs/zerolog"

	"zoho-crm-bridge/internal/crm"
	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/internal/token"
)

// Service orchestrates token handling and CRM calls for one session at a time.
type Service struct {
	tokens *token.Manager
	crm    *crm.Service
	logger *zerolog.Logger
}

// New creates a bridge service.
func New(tokens *token.Manager, crmService *crm.Service, logger *zerolog.Logger) *Service {
	return &Service{tokens: tokens, crm: crmService, logger: logger}
}

// Login runs the authorization-code exchange unconditionally.
func (s *Service) Login(ctx context.Context, st *session.State) (token.Lease, error) {
	return s.tokens.Login(ctx, st)
}

// Refresh forces exactly one refresh exchange. A session without a refresh
// token logs in first.
func (s *Service) Refresh(ctx context.Context, st *session.State) (token.Lease, error) {
	if !st.HasRefreshToken() {
		if _, err := s.tokens.Login(ctx, st); err != nil {
			return token.Lease{}, err
		}
	}
	return s.tokens.Refresh(ctx, st)
}

// Logout clears every key of the session.
func (s *Service) Logout(st *session.State) {
	st.Clear()
	s.logger.Info().Msg("session cleared")
}

// CreateContact creates a contact and records its id and owner id in the
// session for later deals.
func (s *Service) CreateContact(ctx context.Context, st *session.State, in crm.ContactInput) (*crm.CreatedContact, error) {
	lease, err := s.tokens.Ensure(ctx, st)
	if err != nil {
		return nil, err
	}

	created, err := s.crm.CreateContact(ctx, lease, in)
	if err != nil {
		return nil, err
	}

	st.LastContactID = created.ID
	st.LastContactOwnerID = created.OwnerID

	return created, nil
}

// CreateDeal creates a deal linked to the session's last contact unless the
// input names one.
func (s *Service) CreateDeal(ctx context.Context, st *session.State, in crm.DealInput) (*crm.CreatedDeal, error) {
	lease, err := s.tokens.Ensure(ctx, st)
	if err != nil {
		return nil, err
	}

	return s.crm.CreateDeal(ctx, lease, in, crm.LinkedContact{
		ID:      st.LastContactID,
		OwnerID: st.LastContactOwnerID,
	})
}
