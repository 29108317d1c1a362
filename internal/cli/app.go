package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zoho-crm-bridge/internal/bridge"
	"zoho-crm-bridge/internal/config"
	"zoho-crm-bridge/internal/crm"
	"zoho-crm-bridge/internal/logger"
	"zoho-crm-bridge/internal/mcp"
	"zoho-crm-bridge/internal/server"
	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/internal/token"
	"zoho-crm-bridge/pkg/auth"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger
	store  session.Store
	bridge *bridge.Service
	close  func() error
}

// Close releases the session store.
func (a *app) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// newApp builds the token manager, CRM client and bridge on top of store.
func newApp(ctx context.Context, cfg *config.Config, store session.Store, log *zerolog.Logger) (*app, error) {
	creds, err := auth.LoadCredentials(ctx, cfg.Zoho.SecretProject, cfg.Zoho.SecretName, auth.Credentials{
		ClientID:     cfg.Zoho.ClientID,
		ClientSecret: cfg.Zoho.ClientSecret,
		Code:         cfg.Zoho.AuthCode,
		RedirectURI:  cfg.Zoho.RedirectURI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load OAuth credentials: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}

	tokens := token.NewManager(token.Config{
		Credentials:   *creds,
		AccountsURL:   cfg.Zoho.AccountsURL,
		TTL:           cfg.Zoho.TokenTTL,
		RefreshWindow: cfg.Zoho.RefreshWindow,
		HTTPClient:    httpClient,
	}, log)

	crmService := crm.NewService(crm.Config{
		APIDomain:  cfg.Zoho.APIDomain,
		Defaults:   crmDefaults(cfg),
		HTTPClient: httpClient,
	}, log)

	return &app{
		cfg:    cfg,
		logger: log,
		store:  store,
		bridge: bridge.New(tokens, crmService, log),
	}, nil
}

// newLocalApp builds an app on the file-backed session used by the local commands.
func newLocalApp(ctx context.Context, sessionFlag string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	store := session.NewFileStore(localSessionPath(sessionFlag, cfg.Session.File))
	log.Debug().Str("path", store.Path()).Msg("using local session file")

	return newApp(ctx, cfg, store, log)
}

// localSessionPath picks the --session-file flag, then SESSION_FILE, then the default path.
func localSessionPath(flag, configured string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	return session.DefaultFilePath()
}

// openStore is replaced in tests.
var openStore = newStore

// newStore opens the configured session backend.
func newStore(ctx context.Context, cfg *config.Config) (session.Store, func() error, error) {
	switch cfg.Session.Backend {
	case config.BackendFile:
		return session.NewFileStore(localSessionPath("", cfg.Session.File)), nil, nil
	case config.BackendFirestore:
		store, err := session.NewFirestoreStore(ctx, session.FirestoreConfig{
			Project:         cfg.Session.FirestoreProject,
			Collection:      cfg.Session.FirestoreCollection,
			CredentialsFile: cfg.Session.FirestoreCredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return session.NewMemoryStore(), nil, nil
	}
}

func crmDefaults(cfg *config.Config) crm.Defaults {
	return crm.Defaults{
		Contact: crm.ContactDefaults{
			Company:   cfg.Contact.Company,
			FirstName: cfg.Contact.FirstName,
			LastName:  cfg.Contact.LastName,
			Email:     cfg.Contact.Email,
			State:     cfg.Contact.State,
		},
		Deal: crm.DealDefaults{
			Description: cfg.Deal.Description,
			DealName:    cfg.Deal.DealName,
			Stage:       cfg.Deal.Stage,
		},
		FallbackContactID: cfg.Fallback.ContactID,
		FallbackOwnerID:   cfg.Fallback.OwnerID,
	}
}

// openApp opens the configured session store and builds the app on it. The
// store is closed again when the app cannot be built.
func openApp(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*app, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	a, err := newApp(ctx, cfg, store, log)
	if err != nil {
		if closeStore != nil {
			if cerr := closeStore(); cerr != nil {
				log.Warn().Err(cerr).Msg("failed to close session store")
			}
		}
		return nil, err
	}
	a.close = closeStore
	return a, nil
}

// newServer assembles the HTTP server, mounting the MCP endpoint when enabled.
func newServer(a *app) *server.Server {
	cfg := server.Config{
		Addr: a.cfg.HTTP.Addr(),
		Cookie: session.CookieOptions{
			Name:   a.cfg.Session.CookieName,
			Secure: a.cfg.Session.CookieSecure,
		},
	}

	if a.cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(mcp.Config{
			APIKey:    a.cfg.MCP.APIKey,
			SessionID: a.cfg.MCP.SessionID,
			Version:   Version,
		}, a.bridge, a.store, a.logger)
		cfg.MCP = mcpServer.Handler()
	}

	return server.New(cfg, a.bridge, a.store, a.logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("session_backend", cfg.Session.Backend).
		Str("accounts_url", cfg.Zoho.AccountsURL).
		Bool("mcp", cfg.MCP.Enabled).
		Msg("zoho-crm-bridge starting")

	return newServer(a).Run(ctx)
}
