package authgate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeRefresher struct {
	calls int
	err   error
	token *oauth2.Token
}

func (f *fakeRefresher) Refresh(_ context.Context, _ Credential) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func validToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "fresh-token", Expiry: time.Now().Add(time.Hour)}
}

func TestEnsureReadyNoCredential(t *testing.T) {
	gate := NewGate(&fakeRefresher{token: validToken()})
	err := gate.EnsureReady(context.Background(), nil, "user-1")
	assert.ErrorIs(t, err, ErrAuthNotReady)
}

func TestEnsureReadyWrongUser(t *testing.T) {
	ref := &fakeRefresher{token: validToken()}
	gate := NewGate(ref)

	cred := &Credential{SessionID: "s1", UserID: "user-2", RefreshToken: "rt"}
	err := gate.EnsureReady(context.Background(), cred, "user-1")

	assert.ErrorIs(t, err, ErrAuthNotReady)
	assert.Zero(t, ref.calls, "no refresh attempted for a mismatched credential")
}

func TestEnsureReadyForcesRefreshOncePerSession(t *testing.T) {
	ref := &fakeRefresher{token: validToken()}
	gate := NewGate(ref)
	cred := &Credential{SessionID: "s1", UserID: "user-1", RefreshToken: "rt"}

	require.NoError(t, gate.EnsureReady(context.Background(), cred, "user-1"))
	require.NoError(t, gate.EnsureReady(context.Background(), cred, "user-1"))

	assert.Equal(t, 1, ref.calls, "second call in the same session short-circuits")
}

func TestEnsureReadyRefreshFailure(t *testing.T) {
	ref := &fakeRefresher{err: errors.New("token not yet propagated")}
	gate := NewGate(ref)
	cred := &Credential{SessionID: "s1", UserID: "user-1", RefreshToken: "rt"}

	err := gate.EnsureReady(context.Background(), cred, "user-1")
	assert.ErrorIs(t, err, ErrAuthNotReady)

	// A later attempt retries the refresh; nothing was cached as ready.
	ref.err = nil
	ref.token = validToken()
	require.NoError(t, gate.EnsureReady(context.Background(), cred, "user-1"))
	assert.Equal(t, 2, ref.calls)
}

func TestOAuthRefresherHitsProvider(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-123", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"minted","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	ref := NewOAuthRefresher("client-id", "client-secret", server.URL)
	cred := Credential{SessionID: "s1", UserID: "user-1", RefreshToken: "rt-123"}

	tok, err := ref.Refresh(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "minted", tok.AccessToken)
	assert.True(t, tok.Valid())

	// Every Refresh call hits the provider; nothing is served from cache.
	_, err = ref.Refresh(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}
