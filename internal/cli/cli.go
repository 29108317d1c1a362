// Package cli provides the command-line interface for zoho-crm-bridge.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"zoho-crm-bridge/internal/config"
	"zoho-crm-bridge/internal/crm"
	"zoho-crm-bridge/internal/session"
	"zoho-crm-bridge/internal/token"
	"zoho-crm-bridge/pkg/auth"
)

// Version information
const Version = "0.1.0"

// cliSessionID is the session store key used by the local commands.
const cliSessionID = "cli"

// RootCmd is the root command for the CLI.
var RootCmd = &cobra.Command{
	Use:   "zoho-crm-bridge",
	Short: "Zoho CRM bridge - Create Zoho CRM contacts and deals",
	Long: `Forward contact and deal creation to the Zoho CRM v3 API while managing
the OAuth2 access/refresh token lifecycle.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Global flags
var (
	sessionFile string
)

// Contact command flags
var (
	contactCompany   string
	contactFirstName string
	contactLastName  string
	contactEmail     string
	contactState     string
)

// Deal command flags
var (
	dealOwner       string
	dealDescription string
	dealContact     string
	dealName        string
	dealStage       string
)

// Command definitions
var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zoho-crm-bridge version %s\n", Version)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge",
		Long: `Run the HTTP bridge exposing:

  POST /contact        Create a contact (company, First_Name, Last_Name, Email, State)
  POST /deal           Create a deal (Owner, Description, Contact_Name, Deal_Name, Stage)
  GET  /login          Exchange the configured authorization code
  GET  /logout         Clear the session
  GET  /refresh-token  Force an access token refresh
  /mcp                 MCP endpoint (when MCP_ENABLED=true)`,
		RunE: runServe,
	}

	authURLCmd = &cobra.Command{
		Use:   "auth-url",
		Short: "Print the Zoho consent URL for generating a new grant code",
		Long: `Print the Zoho accounts consent URL. Open it, approve the requested scopes
and copy the returned code into ZOHO_AUTH_CODE, then run "login".`,
		RunE: runAuthURL,
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Exchange the configured authorization code for tokens",
		RunE:  runLogin,
	}

	refreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Force a refresh of the access token",
		RunE:  runRefresh,
	}

	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE:  runLogout,
	}

	contactCmd = &cobra.Command{
		Use:   "contact",
		Short: "Manage Zoho CRM contacts",
	}

	contactCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a new contact",
		Long: `Create a new contact in Zoho CRM.

All fields are optional; omitted fields use the CONTACT_DEFAULT_* values.
The created contact becomes the default contact and owner for later deals.`,
		Example: `  # Create a contact with defaults only
  zoho-crm-bridge contact create

  # Create a contact with all fields
  zoho-crm-bridge contact create -c "Acme Inc" -f John -l Doe -e john@acme.com -s Texas`,
		RunE: runContactCreate,
	}

	dealCmd = &cobra.Command{
		Use:   "deal",
		Short: "Manage Zoho CRM deals",
	}

	dealCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a new deal",
		Long: `Create a new deal in Zoho CRM.

Without --contact and --owner the deal is linked to the last contact created
from this session, or to DEAL_FALLBACK_CONTACT_ID / DEAL_FALLBACK_OWNER_ID.`,
		Example: `  # Create a deal for the last created contact
  zoho-crm-bridge deal create -n "Website redesign" -s "Needs Analysis"`,
		RunE: runDealCreate,
	}
)

func runAuthURL(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	creds := auth.Credentials{ClientID: cfg.Zoho.ClientID, RedirectURI: cfg.Zoho.RedirectURI}
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Println(cyan("Open this URL to grant access:"))
	fmt.Println()
	fmt.Println(auth.ConsentURL(creds.OAuthConfig(cfg.Zoho.AccountsURL), uuid.NewString()))
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	var lease token.Lease
	err := withLocalSession(cmd.Context(), func(a *app, st *session.State) error {
		var err error
		lease, err = a.bridge.Login(cmd.Context(), st)
		return err
	})
	if err != nil {
		return describeError(err)
	}

	printToken("Logged in successfully!", lease)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	var lease token.Lease
	err := withLocalSession(cmd.Context(), func(a *app, st *session.State) error {
		var err error
		lease, err = a.bridge.Refresh(cmd.Context(), st)
		return err
	})
	if err != nil {
		return describeError(err)
	}

	printToken("Access token updated.", lease)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	err := withLocalSession(cmd.Context(), func(a *app, st *session.State) error {
		a.bridge.Logout(st)
		return nil
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Println(green("Logged out."))
	return nil
}

func runContactCreate(cmd *cobra.Command, args []string) error {
	var created *crm.CreatedContact
	err := withLocalSession(cmd.Context(), func(a *app, st *session.State) error {
		var err error
		created, err = a.bridge.CreateContact(cmd.Context(), st, contactInputFromFlags())
		return err
	})
	if err != nil {
		return describeError(err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Println(green("Contact created successfully!"))
	fmt.Println()
	fmt.Printf("  %s: %s\n", cyan("ID"), created.ID)
	fmt.Printf("  %s: %s\n", cyan("Owner"), created.OwnerID)

	return nil
}

func runDealCreate(cmd *cobra.Command, args []string) error {
	var created *crm.CreatedDeal
	err := withLocalSession(cmd.Context(), func(a *app, st *session.State) error {
		var err error
		created, err = a.bridge.CreateDeal(cmd.Context(), st, dealInputFromFlags())
		return err
	})
	if err != nil {
		return describeError(err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Println(green("Deal created successfully!"))
	fmt.Println()
	fmt.Printf("  %s: %s\n", cyan("ID"), created.ID)

	return nil
}

func contactInputFromFlags() crm.ContactInput {
	return crm.ContactInput{
		Company:   contactCompany,
		FirstName: contactFirstName,
		LastName:  contactLastName,
		Email:     contactEmail,
		State:     contactState,
	}
}

func dealInputFromFlags() crm.DealInput {
	return crm.DealInput{
		OwnerID:     dealOwner,
		Description: dealDescription,
		ContactID:   dealContact,
		DealName:    dealName,
		Stage:       dealStage,
	}
}

// withLocalSession runs fn against the file-backed CLI session and saves the
// session afterwards, also when fn fails.
func withLocalSession(ctx context.Context, fn func(a *app, st *session.State) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newLocalApp(ctx, sessionFile)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := session.LoadOrNew(ctx, a.store, cliSessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	opErr := fn(a, st)

	if err := session.Persist(ctx, a.store, cliSessionID, st); err != nil && opErr == nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return opErr
}

// describeError adds the provider payload to token and CRM errors.
func describeError(err error) error {
	var pe *auth.ProviderError
	if errors.As(err, &pe) {
		payload, _ := json.Marshal(pe.Payload)
		if errors.Is(err, token.ErrLoginFailed) {
			return fmt.Errorf("you are not logged in, check the Zoho credentials: %w (zoho: %s)", err, payload)
		}
		return fmt.Errorf("%w (zoho: %s)", err, payload)
	}

	var reqErr *crm.RequestError
	if errors.As(err, &reqErr) && len(reqErr.Body) > 0 {
		return fmt.Errorf("%w (zoho: %s)", err, reqErr.Body)
	}
	return err
}

func printToken(title string, lease token.Lease) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Println(green(title))
	fmt.Println()
	fmt.Printf("  %s: %s\n", cyan("Access token"), auth.TruncateToken(lease.AccessToken))
	fmt.Printf("  %s: %s\n", cyan("API domain"), lease.APIDomain)
}

// Init initializes the CLI commands and flags.
func Init() {
	// Add version flag to root command
	RootCmd.Version = Version
	RootCmd.SetVersionTemplate("zoho-crm-bridge version {{.Version}}\n")

	RootCmd.PersistentFlags().StringVar(&sessionFile, "session-file", "",
		"Session file for local commands (default: SESSION_FILE or ~/.credentials/"+session.DefaultFileName+")")

	// Setup contact create flags
	contactCreateCmd.Flags().StringVarP(&contactCompany, "company", "c", "", "Company name")
	contactCreateCmd.Flags().StringVarP(&contactFirstName, "firstname", "f", "", "First name")
	contactCreateCmd.Flags().StringVarP(&contactLastName, "lastname", "l", "", "Last name")
	contactCreateCmd.Flags().StringVarP(&contactEmail, "email", "e", "", "Email address")
	contactCreateCmd.Flags().StringVarP(&contactState, "state", "s", "", "State or region")

	// Setup deal create flags
	dealCreateCmd.Flags().StringVarP(&dealOwner, "owner", "o", "", "Owner user id")
	dealCreateCmd.Flags().StringVarP(&dealDescription, "description", "d", "", "Deal description")
	dealCreateCmd.Flags().StringVarP(&dealContact, "contact", "c", "", "Contact id")
	dealCreateCmd.Flags().StringVarP(&dealName, "name", "n", "", "Deal name")
	dealCreateCmd.Flags().StringVarP(&dealStage, "stage", "s", "", "Pipeline stage")

	contactCmd.AddCommand(contactCreateCmd)
	dealCmd.AddCommand(dealCreateCmd)

	// Register commands
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(authURLCmd)
	RootCmd.AddCommand(loginCmd)
	RootCmd.AddCommand(refreshCmd)
	RootCmd.AddCommand(logoutCmd)
	RootCmd.AddCommand(contactCmd)
	RootCmd.AddCommand(dealCmd)
}
