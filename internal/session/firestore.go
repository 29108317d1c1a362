package session

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection holding session documents.
const DefaultCollection = "sessions"

// sessionDocument is the structure stored in Firestore.
// Collection: sessions, Document ID: the session id.
type sessionDocument struct {
	RefreshToken       string    `firestore:"refresh_token,omitempty"`
	AccessToken        string    `firestore:"access_token,omitempty"`
	APIDomain          string    `firestore:"api_domain,omitempty"`
	ExpiresAt          time.Time `firestore:"expires_at,omitempty"`
	LastContactID      string    `firestore:"last_contact_id,omitempty"`
	LastContactOwnerID string    `firestore:"last_contact_owner_id,omitempty"`
	UpdatedAt          time.Time `firestore:"updated_at"`
}

func documentFromState(st *State, now time.Time) sessionDocument {
	return sessionDocument{
		RefreshToken:       st.RefreshToken,
		AccessToken:        st.AccessToken,
		APIDomain:          st.APIDomain,
		ExpiresAt:          st.ExpiresAt,
		LastContactID:      st.LastContactID,
		LastContactOwnerID: st.LastContactOwnerID,
		UpdatedAt:          now,
	}
}

func (d sessionDocument) state() *State {
	return &State{
		RefreshToken:       d.RefreshToken,
		AccessToken:        d.AccessToken,
		APIDomain:          d.APIDomain,
		ExpiresAt:          d.ExpiresAt,
		LastContactID:      d.LastContactID,
		LastContactOwnerID: d.LastContactOwnerID,
	}
}

// FirestoreStore keeps sessions as Firestore documents.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// FirestoreConfig holds the settings for NewFirestoreStore.
type FirestoreConfig struct {
	Project    string
	Collection string
	// CredentialsFile is an optional service account key; application default
	// credentials are used when empty.
	CredentialsFile string
}

// NewFirestoreStore connects to Firestore. Close releases the client.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	return &FirestoreStore{client: client, collection: collection}, nil
}

func (f *FirestoreStore) Load(ctx context.Context, id string) (*State, error) {
	snap, err := f.client.Collection(f.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session document: %w", err)
	}

	var doc sessionDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse session document: %w", err)
	}
	return doc.state(), nil
}

func (f *FirestoreStore) Save(ctx context.Context, id string, st *State) error {
	_, err := f.client.Collection(f.collection).Doc(id).Set(ctx, documentFromState(st, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to save session document: %w", err)
	}
	return nil
}

func (f *FirestoreStore) Delete(ctx context.Context, id string) error {
	_, err := f.client.Collection(f.collection).Doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session document: %w", err)
	}
	return nil
}

// Close releases the Firestore client.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}
