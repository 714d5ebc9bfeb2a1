package codex

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Refresher performs the refresh-token grant.
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenData, error)
}

// Accessor hands out a currently valid credential, refreshing it when it expired.
// Concurrent callers that observe an expired credential share one refresh.
type Accessor struct {
	store     CredentialStore
	refresher Refresher
	lead      time.Duration
	now       func() time.Time
	group     singleflight.Group
}

// NewAccessor creates an Accessor. lead treats credentials expiring within it as
// already expired.
func NewAccessor(store CredentialStore, refresher Refresher, lead time.Duration) *Accessor {
	if lead < 0 {
		lead = 0
	}
	return &Accessor{
		store:     store,
		refresher: refresher,
		lead:      lead,
		now:       time.Now,
	}
}

// GetValidCredential returns the stored credential, refreshing it first when it is
// expired or has no access token. It returns ErrNotConnected when nothing is stored.
// A failed refresh leaves the stored record untouched.
func (a *Accessor) GetValidCredential(ctx context.Context) (*Credential, error) {
	cred, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrNotConnected
	}
	if a.usable(cred) {
		return cred, nil
	}

	// The refresh outlives a single caller's cancellation since others may share it.
	v, err, shared := a.group.Do("refresh", func() (any, error) {
		return a.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("codex credential refresh shared with concurrent callers")
	}
	refreshed := *v.(*Credential)
	return &refreshed, nil
}

func (a *Accessor) usable(cred *Credential) bool {
	return cred.Access != "" && !cred.Expired(a.now(), a.lead)
}

func (a *Accessor) refresh(ctx context.Context) (*Credential, error) {
	// Re-read so a caller that loaded the record just before another refresh finished
	// does not spend the already rotated refresh token.
	current, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if current == nil {
		return nil, ErrNotConnected
	}
	if a.usable(current) {
		return current, nil
	}

	log.Debug("refreshing codex credential")
	tokens, err := a.refresher.RefreshTokens(ctx, current.Refresh)
	if err != nil {
		log.Warnf("codex credential refresh failed: %v", err)
		return nil, NewAuthenticationError(ErrTokenRefreshFailed, err)
	}

	next := tokens.Credential(a.now(), current.AccountID)
	if next.Refresh == "" {
		next.Refresh = current.Refresh
	}
	if errSave := a.store.Save(ctx, next); errSave != nil {
		return nil, NewAuthenticationError(ErrTokenRefreshFailed, fmt.Errorf("failed to save refreshed credential: %w", errSave))
	}
	log.WithField("account", next.AccountID).Info("codex credential refreshed")
	return next, nil
}
