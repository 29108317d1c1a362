// Package mcp exposes the bridge operations as MCP (Model Context Protocol)
// tools over streamable HTTP, so AI assistants can drive the Zoho CRM.
//
// All tool calls share one server-side session, named by Config.SessionID.
package mcp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"zoho-crm-bridge/internal/bridge"
	"zoho-crm-bridge/internal/crm"
	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/pkg/auth"
)

// Config holds the MCP server configuration.
type Config struct {
	APIKey    string // static API key expected as a Bearer token
	SessionID string // session store key shared by all tool calls
	Version   string
}

// Server wraps the MCP server and the bridge it drives.
type Server struct {
	config    Config
	mcpServer *mcp.Server
	bridge    *bridge.Service
	store     session.Store
	logger    *zerolog.Logger
}

// NewServer creates an MCP server with all tools registered.
func NewServer(cfg Config, svc *bridge.Service, store session.Store, logger *zerolog.Logger) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		config: cfg,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    "zoho-crm-bridge",
			Version: version,
		}, nil),
		bridge: svc,
		store:  store,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Handler returns the streamable HTTP handler guarded by the API key.
func (s *Server) Handler() http.Handler {
	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{})

	return s.authMiddleware(handler)
}

// extractBearerToken extracts the API key from the Authorization header.
// Expected format: "Bearer <api_key>"
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, bearerPrefix)
}

// authMiddleware rejects requests without the configured API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractBearerToken(r)
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.config.APIKey)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="zoho-crm-bridge"`)
			http.Error(w, "Unauthorized: invalid or missing API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withSession runs fn on the shared session state and persists the state
// afterwards, also when fn fails.
func (s *Server) withSession(ctx context.Context, fn func(st *session.State) error) error {
	st, err := session.LoadOrNew(ctx, s.store, s.config.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	opErr := fn(st)

	if err := session.Persist(ctx, s.store, s.config.SessionID, st); err != nil {
		s.logger.Error().Err(err).Msg("failed to save MCP session")
		if opErr == nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
	}
	return opErr
}

// PingOutput is the output schema for the ping tool.
type PingOutput struct {
	Message string `json:"message"`
	Time    string `json:"time"`
}

// TokenOutput is the output schema for the login and refresh tools.
type TokenOutput struct {
	Message     string `json:"message" jsonschema:"Result message"`
	AccessToken string `json:"accessToken" jsonschema:"Truncated access token"`
	APIDomain   string `json:"apiDomain" jsonschema:"Zoho API domain used for CRM calls"`
}

// LogoutOutput is the output schema for the zoho_logout tool.
type LogoutOutput struct {
	Message string `json:"message" jsonschema:"Result message"`
}

// ContactInput is the input schema for the zoho_contact_create tool.
type ContactInput struct {
	Company   string `json:"company,omitempty" jsonschema:"Company name"`
	FirstName string `json:"firstName,omitempty" jsonschema:"First name"`
	LastName  string `json:"lastName,omitempty" jsonschema:"Last name"`
	Email     string `json:"email,omitempty" jsonschema:"Email address"`
	State     string `json:"state,omitempty" jsonschema:"State or region"`
}

// ContactOutput is the output schema for the zoho_contact_create tool.
type ContactOutput struct {
	ContactID string         `json:"contactId" jsonschema:"Zoho id of the created contact"`
	OwnerID   string         `json:"ownerId" jsonschema:"Zoho id of the record owner"`
	Response  map[string]any `json:"response,omitempty" jsonschema:"Raw Zoho CRM response"`
}

// DealInput is the input schema for the zoho_deal_create tool.
type DealInput struct {
	OwnerID     string `json:"ownerId,omitempty" jsonschema:"Owner user id. Defaults to the owner of the last created contact"`
	Description string `json:"description,omitempty" jsonschema:"Deal description"`
	ContactID   string `json:"contactId,omitempty" jsonschema:"Contact id. Defaults to the last created contact"`
	DealName    string `json:"dealName,omitempty" jsonschema:"Deal name"`
	Stage       string `json:"stage,omitempty" jsonschema:"Pipeline stage"`
}

// DealOutput is the output schema for the zoho_deal_create tool.
type DealOutput struct {
	DealID   string         `json:"dealId" jsonschema:"Zoho id of the created deal"`
	Response map[string]any `json:"response,omitempty" jsonschema:"Raw Zoho CRM response"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "ping",
		Description: "Test connectivity with the MCP server",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, PingOutput, error) {
		return nil, PingOutput{Message: "pong", Time: time.Now().Format(time.RFC3339)}, nil
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "zoho_login",
		Description: "Exchange the configured authorization code for Zoho tokens",
	}, s.handleLogin)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "zoho_refresh_token",
		Description: "Force a refresh of the Zoho access token",
	}, s.handleRefresh)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "zoho_logout",
		Description: "Clear the stored Zoho tokens and contact linkage",
	}, s.handleLogout)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "zoho_contact_create",
		Description: "Create a contact in Zoho CRM (omitted fields use configured defaults)",
	}, s.handleCreateContact)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "zoho_deal_create",
		Description: "Create a deal in Zoho CRM linked to the last created contact unless one is given",
	}, s.handleCreateDeal)
}

func (s *Server) handleLogin(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, TokenOutput, error) {
	var out TokenOutput
	err := s.withSession(ctx, func(st *session.State) error {
		lease, err := s.bridge.Login(ctx, st)
		if err != nil {
			return err
		}
		out = TokenOutput{Message: "Logged in", AccessToken: auth.TruncateToken(lease.AccessToken), APIDomain: lease.APIDomain}
		return nil
	})
	if err != nil {
		return nil, TokenOutput{}, toolError(err)
	}
	return nil, out, nil
}

func (s *Server) handleRefresh(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, TokenOutput, error) {
	var out TokenOutput
	err := s.withSession(ctx, func(st *session.State) error {
		lease, err := s.bridge.Refresh(ctx, st)
		if err != nil {
			return err
		}
		out = TokenOutput{Message: "Access token updated", AccessToken: auth.TruncateToken(lease.AccessToken), APIDomain: lease.APIDomain}
		return nil
	})
	if err != nil {
		return nil, TokenOutput{}, toolError(err)
	}
	return nil, out, nil
}

func (s *Server) handleLogout(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, LogoutOutput, error) {
	err := s.withSession(ctx, func(st *session.State) error {
		s.bridge.Logout(st)
		return nil
	})
	if err != nil {
		return nil, LogoutOutput{}, err
	}
	return nil, LogoutOutput{Message: "Logged out"}, nil
}

func (s *Server) handleCreateContact(ctx context.Context, req *mcp.CallToolRequest, input ContactInput) (*mcp.CallToolResult, ContactOutput, error) {
	var created *crm.CreatedContact
	err := s.withSession(ctx, func(st *session.State) error {
		var err error
		created, err = s.bridge.CreateContact(ctx, st, crm.ContactInput{
			Company:   input.Company,
			FirstName: input.FirstName,
			LastName:  input.LastName,
			Email:     input.Email,
			State:     input.State,
		})
		return err
	})
	if err != nil {
		return nil, ContactOutput{}, toolError(err)
	}

	return nil, ContactOutput{
		ContactID: created.ID,
		OwnerID:   created.OwnerID,
		Response:  decodeRaw(created.Raw),
	}, nil
}

func (s *Server) handleCreateDeal(ctx context.Context, req *mcp.CallToolRequest, input DealInput) (*mcp.CallToolResult, DealOutput, error) {
	var created *crm.CreatedDeal
	err := s.withSession(ctx, func(st *session.State) error {
		var err error
		created, err = s.bridge.CreateDeal(ctx, st, crm.DealInput{
			OwnerID:     input.OwnerID,
			Description: input.Description,
			ContactID:   input.ContactID,
			DealName:    input.DealName,
			Stage:       input.Stage,
		})
		return err
	})
	if err != nil {
		return nil, DealOutput{}, toolError(err)
	}

	return nil, DealOutput{DealID: created.ID, Response: decodeRaw(created.Raw)}, nil
}

// toolError appends the provider payload, when there is one, to the error text.
func toolError(err error) error {
	var pe *auth.ProviderError
	if errors.As(err, &pe) {
		payload, _ := json.Marshal(pe.Payload)
		return fmt.Errorf("%w (zoho: %s)", err, payload)
	}

	var reqErr *crm.RequestError
	if errors.As(err, &reqErr) && len(reqErr.Body) > 0 {
		return fmt.Errorf("%w (zoho: %s)", err, reqErr.Body)
	}
	return err
}

func decodeRaw(raw json.RawMessage) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
