// Package authgate guards the first privileged read of a session. The
// identity provider reports "signed in" slightly before its issued token is
// accepted by the document store's authorization layer; forcing a token
// refresh before the first privileged operation closes that race. Callers
// invoke the gate once per session; later operations in the same flow rely
// on the already-verified token.
package authgate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// ErrAuthNotReady is returned when the session cannot yet perform
// privileged operations. Callers must treat this as a hard error rather
// than proceed and hit a misleading authorization failure deeper down.
var ErrAuthNotReady = errors.New("auth not ready")

// Credential is the session credential presented by the client.
type Credential struct {
	SessionID    string
	UserID       string
	RefreshToken string
}

// TokenRefresher obtains a freshly minted access token for a credential,
// never serving from a cache.
type TokenRefresher interface {
	Refresh(ctx context.Context, cred Credential) (*oauth2.Token, error)
}

// OAuthRefresher implements TokenRefresher against the identity provider's
// token endpoint via the refresh-token grant.
type OAuthRefresher struct {
	config *oauth2.Config
}

// NewOAuthRefresher creates a refresher for the given provider endpoint.
func NewOAuthRefresher(clientID, clientSecret, tokenURL string) *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Refresh exchanges the refresh token for a new access token. A fresh
// TokenSource is built per call with no stored access token, so the
// provider is always hit. This is the forced refresh, not a cached read.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return tok, nil
}

// Gate verifies session readiness before the first privileged operation.
type Gate struct {
	refresher TokenRefresher

	mu    sync.Mutex
	ready map[string]bool // session IDs that already passed the gate
}

// NewGate creates a readiness gate.
func NewGate(refresher TokenRefresher) *Gate {
	return &Gate{
		refresher: refresher,
		ready:     make(map[string]bool),
	}
}

// EnsureReady confirms that a credential is present, that it belongs to
// expectedUserID, and that a freshly minted token has been obtained from
// the identity provider. A session that already passed the gate
// short-circuits; the flow must not re-verify before every operation.
func (g *Gate) EnsureReady(ctx context.Context, cred *Credential, expectedUserID string) error {
	if cred == nil {
		return fmt.Errorf("%w: no credential present", ErrAuthNotReady)
	}
	if cred.UserID != expectedUserID {
		return fmt.Errorf("%w: credential belongs to a different user", ErrAuthNotReady)
	}

	g.mu.Lock()
	done := g.ready[cred.SessionID]
	g.mu.Unlock()
	if done {
		return nil
	}

	tok, err := g.refresher.Refresh(ctx, *cred)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthNotReady, err)
	}
	if !tok.Valid() {
		return fmt.Errorf("%w: provider returned an invalid token", ErrAuthNotReady)
	}

	g.mu.Lock()
	g.ready[cred.SessionID] = true
	g.mu.Unlock()
	return nil
}
