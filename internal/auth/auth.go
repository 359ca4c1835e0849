// Package auth manages the OAuth credential lifecycle for connected
// calendar accounts: load, expiry check, refresh, persist.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrAuthRequired indicates that no usable credential exists for the
// user: either no token was ever stored, or the refresh grant has been
// revoked. The user must go through the authorization flow again.
var ErrAuthRequired = errors.New("authorization required")

// expirySkew treats tokens this close to expiry as already expired, so
// a credential handed out stays valid across a sync cycle's calls.
const expirySkew = time.Minute

// CredentialStore persists per-user OAuth tokens.
type CredentialStore interface {
	GetToken(userID string) (*oauth2.Token, error)
	SaveToken(userID string, token *oauth2.Token) error
}

// Manager hands out valid access tokens, refreshing and persisting
// expired ones. A successful refresh is durably saved before the token
// is returned, so a crash after the hand-off never loses it.
type Manager struct {
	store       CredentialStore
	oauthConfig *oauth2.Config
	notFound    error

	// Refreshes for the same user are serialized so two overlapping
	// sync runs cannot overwrite each other's refresh token.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager backed by the given credential store.
// notFound is the store's sentinel for a missing token (for example
// store.ErrTokenNotFound); it is mapped to ErrAuthRequired.
func NewManager(store CredentialStore, oauthConfig *oauth2.Config, notFound error) *Manager {
	return &Manager{
		store:       store,
		oauthConfig: oauthConfig,
		notFound:    notFound,
		locks:       make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex guarding refreshes for one user.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

// EnsureValid returns a non-expired token for the user, refreshing and
// persisting it first if necessary.
//
// Returns ErrAuthRequired when the user has no stored token or the
// refresh grant was rejected (revoked access); any other error is a
// transient failure and the caller may retry on the next cycle.
func (m *Manager) EnsureValid(ctx context.Context, userID string) (*oauth2.Token, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	token, err := m.store.GetToken(userID)
	if err != nil {
		if m.notFound != nil && errors.Is(err, m.notFound) {
			return nil, fmt.Errorf("%w: no token stored", ErrAuthRequired)
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if tokenValid(token) {
		return token, nil
	}

	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired and no refresh token available", ErrAuthRequired)
	}

	refreshed, err := m.oauthConfig.TokenSource(ctx, token).Token()
	if err != nil {
		if isGrantRejected(err) {
			return nil, fmt.Errorf("%w: refresh rejected: %v", ErrAuthRequired, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	// The token endpoint may omit the refresh token on refresh; keep
	// the one we already have so the next refresh still works.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = token.RefreshToken
	}

	if err := m.store.SaveToken(userID, refreshed); err != nil {
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}

	return refreshed, nil
}

// tokenValid reports whether the token can still authenticate calls,
// with a safety skew before the recorded expiry.
func tokenValid(token *oauth2.Token) bool {
	if token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return token.Expiry.After(time.Now().Add(expirySkew))
}

// isGrantRejected reports whether a refresh failure means the grant is
// gone for good (revoked or invalid), as opposed to a network or
// server problem worth retrying later.
func isGrantRejected(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	code := 0
	if retrieveErr.Response != nil {
		code = retrieveErr.Response.StatusCode
	}
	return code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden
}
