package auth

import (
	"context"
	"testing"
)

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"complete secret", `{"client_id":"id","client_secret":"s","code":"c","redirect_uri":"http://x"}`, false},
		{"client only", `{"client_id":"id","client_secret":"s"}`, false},
		{"missing secret", `{"client_id":"id"}`, true},
		{"not json", `client_id=id`, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseCredentials([]byte(tc.data))
			if (err != nil) != tc.wantErr {
				t.Errorf("parseCredentials() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestMergeCredentials(t *testing.T) {
	dst := Credentials{ClientID: "env-id", ClientSecret: "env-secret", Code: "env-code", RedirectURI: "http://env"}
	mergeCredentials(&dst, &Credentials{ClientID: "secret-id", ClientSecret: "secret-secret"})

	if dst.ClientID != "secret-id" || dst.ClientSecret != "secret-secret" {
		t.Errorf("client fields not overridden: %+v", dst)
	}
	if dst.Code != "env-code" || dst.RedirectURI != "http://env" {
		t.Errorf("empty secret fields must keep base values: %+v", dst)
	}
}

func TestLoadCredentials_NoSecretConfigured(t *testing.T) {
	base := Credentials{ClientID: "id", ClientSecret: "secret"}

	got, err := LoadCredentials(context.Background(), "", "", base)
	if err != nil {
		t.Fatalf("LoadCredentials() error: %v", err)
	}
	if *got != base {
		t.Errorf("LoadCredentials() = %+v, want %+v", *got, base)
	}
}
