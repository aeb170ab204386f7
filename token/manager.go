package token

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/outfield/enrichd/errors"
)

// DefaultExpirySkew is subtracted from the stored expiry so tokens are
// refreshed before they actually lapse.
const DefaultExpirySkew = 30 * time.Second

// refreshTimeout bounds one detached upstream refresh call.
const refreshTimeout = 30 * time.Second

// TokenSet is the result of one upstream refresh call
type TokenSet struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for a fresh token set at the
// provider's token endpoint. Implemented by provider.Client.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// Manager owns the access token lifecycle for all users. Reads are
// cheap store lookups; refreshes for the same user are coalesced so a
// burst of expired-token callers produces exactly one upstream call.
type Manager struct {
	store     *Store
	refresher Refresher
	skew      time.Duration
	group     singleflight.Group
	logger    *zap.SugaredLogger
}

// NewManager creates a token manager. A non-positive skew falls back
// to DefaultExpirySkew.
func NewManager(store *Store, refresher Refresher, skew time.Duration, log *zap.SugaredLogger) *Manager {
	if skew <= 0 {
		skew = DefaultExpirySkew
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		skew:      skew,
		logger:    log.Named("token"),
	}
}

// AccessToken returns a valid access token for the user, refreshing it
// first when the stored one is expired or inside the skew window.
// Returns ErrCredentialMissing when the user never connected the
// provider account.
func (m *Manager) AccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	if time.Now().Before(cred.ExpiresAt.Add(-m.skew)) {
		return cred.AccessToken, nil
	}

	return m.refresh(ctx, userID)
}

// ForceRefresh handles the 401 path: the caller holds staleToken, the
// provider just rejected it. If the stored token already differs,
// another caller refreshed first and the stored one is returned without
// an upstream call. Otherwise exactly one refresh happens, shared with
// any concurrent forcers.
func (m *Manager) ForceRefresh(ctx context.Context, userID, staleToken string) (string, error) {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	if cred.AccessToken != staleToken {
		return cred.AccessToken, nil
	}

	return m.refresh(ctx, userID)
}

// refresh performs one coalesced upstream refresh for the user and
// persists the result before any waiter sees it.
func (m *Manager) refresh(ctx context.Context, userID string) (string, error) {
	v, err, shared := m.group.Do(userID, func() (interface{}, error) {
		// The result is shared with every coalesced waiter, so the
		// refresh must not die with whichever caller started it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		cred, err := m.store.GetCredential(ctx, userID)
		if err != nil {
			return nil, err
		}

		set, err := m.refresher.RefreshToken(ctx, cred.RefreshToken)
		if err != nil {
			return nil, errors.Wrapf(ErrRefreshFailed, "user %s: %v", userID, err)
		}

		refreshToken := set.RefreshToken
		if refreshToken == "" {
			refreshToken = cred.RefreshToken
		}

		updated := &Credential{
			UserID:       userID,
			AccessToken:  set.AccessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    set.ExpiresAt,
		}
		if err := m.store.UpsertCredential(ctx, updated); err != nil {
			return nil, err
		}

		m.logger.Infow("Refreshed provider token",
			"user_id", userID,
			"expires_at", set.ExpiresAt,
		)

		return set.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	if shared {
		m.logger.Debugw("Token refresh coalesced", "user_id", userID)
	}

	return v.(string), nil
}
