package auth

import (
	"context"
	"encoding/json"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// LoadCredentials returns the OAuth client credentials. When project and
// secretName are set, the latest version of that Secret Manager secret is read
// and its non-empty fields override the ones in base.
func LoadCredentials(ctx context.Context, project, secretName string, base Credentials) (*Credentials, error) {
	creds := base
	if project == "" || secretName == "" {
		return &creds, nil
	}

	data, err := loadFromSecretManager(ctx, project, secretName)
	if err != nil {
		return nil, err
	}

	fromSecret, err := parseCredentials(data)
	if err != nil {
		return nil, err
	}
	mergeCredentials(&creds, fromSecret)

	return &creds, nil
}

func parseCredentials(data []byte) (*Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse OAuth credentials: %w", err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("OAuth credentials secret is missing client_id or client_secret")
	}
	return &creds, nil
}

func mergeCredentials(dst *Credentials, src *Credentials) {
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.ClientSecret != "" {
		dst.ClientSecret = src.ClientSecret
	}
	if src.Code != "" {
		dst.Code = src.Code
	}
	if src.RedirectURI != "" {
		dst.RedirectURI = src.RedirectURI
	}
}

// loadFromSecretManager loads credentials from Google Secret Manager.
func loadFromSecretManager(ctx context.Context, project, secretName string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	defer client.Close()

	secretPath := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, secretName)
	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access secret %s: %w", secretPath, err)
	}

	return result.Payload.Data, nil
}
