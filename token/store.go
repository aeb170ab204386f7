package token

import (
	"context"
	"database/sql"
	"time"

	"github.com/outfield/enrichd/errors"
)

// ErrCredentialMissing indicates no credential row exists for the user.
// The owner must connect the provider account before jobs can run.
var ErrCredentialMissing = errors.New("provider credential missing")

// ErrRefreshFailed indicates the upstream token endpoint rejected or
// failed the refresh. Never retried in a loop; the caller surfaces it
// as a systemic failure.
var ErrRefreshFailed = errors.New("token refresh failed")

// Credential is one user's provider credential row
type Credential struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store handles persistence of provider credentials
type Store struct {
	db *sql.DB
}

// NewStore creates a new credential store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetCredential retrieves the credential row for a user
func (s *Store) GetCredential(ctx context.Context, userID string) (*Credential, error) {
	cred := &Credential{}

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM provider_credentials WHERE user_id = ?`,
		userID,
	).Scan(&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt, &cred.CreatedAt, &cred.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrCredentialMissing, "user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get credential")
	}

	return cred, nil
}

// UpsertCredential inserts or replaces the credential row for a user.
// One row per user; a refreshed token overwrites the previous one.
func (s *Store) UpsertCredential(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_credentials (user_id, access_token, refresh_token, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		cred.UserID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert credential for user %s", cred.UserID)
	}

	return nil
}

// DeleteCredential removes a user's credential row
func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE user_id = ?`, userID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete credential for user %s", userID)
	}
	return nil
}
