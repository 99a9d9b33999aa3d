package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ignite/attribution-relay/internal/attribution"
	"github.com/ignite/attribution-relay/internal/authgate"
	"github.com/ignite/attribution-relay/internal/capi"
	"github.com/ignite/attribution-relay/internal/consent"
	"github.com/ignite/attribution-relay/internal/conversion"
	"github.com/ignite/attribution-relay/internal/pkg/retry"
	"github.com/ignite/attribution-relay/internal/profile"
)

// fakeProfiles is an in-memory stand-in for the DynamoDB profile client,
// wired through every handler dependency.
type fakeProfiles struct {
	records map[string]*profile.Record
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{records: make(map[string]*profile.Record)}
}

func (f *fakeProfiles) Get(_ context.Context, userID string) (*profile.Record, error) {
	return f.records[userID], nil
}

func (f *fakeProfiles) ensure(userID string) *profile.Record {
	rec := f.records[userID]
	if rec == nil {
		rec = &profile.Record{UserID: userID}
		f.records[userID] = rec
	}
	return rec
}

func (f *fakeProfiles) LinkAttribution(_ context.Context, userID string, attr profile.Attribution) error {
	rec := f.ensure(userID)
	if rec.Attribution != nil {
		return profile.ErrAttributionExists
	}
	rec.Attribution = &attr
	return nil
}

func (f *fakeProfiles) MarkFirstLogin(_ context.Context, userID string, at time.Time) error {
	rec := f.ensure(userID)
	if rec.FirstAppLoginAt != nil {
		return profile.ErrMarkerAlreadySet
	}
	rec.FirstAppLoginAt = &at
	return nil
}

func (f *fakeProfiles) RecordConsent(_ context.Context, userID string, status profile.ConsentStatus, entry profile.PromptEvent) error {
	rec := f.ensure(userID)
	rec.TrackingPermissionStatus = status
	rec.TrackingPromptHistory = append(rec.TrackingPromptHistory, entry)
	return nil
}

type fakeSender struct {
	delivered []capi.Event
}

func (f *fakeSender) SendEvent(_ context.Context, evt capi.Event) error {
	f.delivered = append(f.delivered, evt)
	return nil
}

type alwaysFreshRefresher struct{}

func (alwaysFreshRefresher) Refresh(_ context.Context, _ authgate.Credential) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeProfiles, *fakeSender) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	profiles := newFakeProfiles()
	devices := attribution.NewDeviceStore(client, 0)
	store := attribution.NewStore(devices, profiles)

	sender := &fakeSender{}
	policy := retry.NewPolicy(3, time.Millisecond)
	policy.SetSleep(func(context.Context, time.Duration) error { return nil })
	guard := conversion.NewGuard(profiles, devices)
	dispatcher := conversion.NewDispatcher(sender, guard, profiles, policy, nil)

	h := NewHandler(store, dispatcher, consent.NewRecorder(profiles), authgate.NewGate(alwaysFreshRefresher{}))
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	return server, profiles, sender
}

func doJSON(t *testing.T, method, url string, body any, authUser string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authUser != "" {
		req.Header.Set("Authorization", "Bearer refresh-token")
		req.Header.Set("X-Session-ID", "session-1")
		req.Header.Set("X-User-ID", authUser)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCaptureEndpointIsPreAuth(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/devices/dev-1/attribution",
		map[string]string{"click_id": "click-A", "campaign_id": "cmp-1"}, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPrivilegedEndpointsRejectMissingCredential(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/users/user-1/attribution/link",
		map[string]string{"device_id": "dev-1"}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Credential for a different user is also rejected.
	resp = doJSON(t, http.MethodPost, server.URL+"/v1/users/user-1/attribution/link",
		map[string]string{"device_id": "dev-1"}, "user-2")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCaptureLinkAndFetchFlow(t *testing.T) {
	server, profiles, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/devices/dev-1/attribution",
		map[string]string{"click_id": "click-A", "campaign_id": "cmp-1"}, "")
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, server.URL+"/v1/users/user-1/attribution/link",
		map[string]string{"device_id": "dev-1"}, "user-1")
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NotNil(t, profiles.records["user-1"].Attribution)
	assert.Equal(t, "click-A", profiles.records["user-1"].Attribution.ClickID)

	resp = doJSON(t, http.MethodGet, server.URL+"/v1/users/user-1/attribution", nil, "user-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var attr profile.Attribution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&attr))
	assert.Equal(t, "click-A", attr.ClickID)
}

func TestGetAttributionNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/v1/users/user-9/attribution", nil, "user-9")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsentEndpoint(t *testing.T) {
	server, profiles, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/v1/users/user-1/consent",
		map[string]string{"result": "authorized"}, "user-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "authorized", body["status"])

	rec := profiles.records["user-1"]
	assert.Equal(t, profile.ConsentAuthorized, rec.TrackingPermissionStatus)
	assert.Len(t, rec.TrackingPromptHistory, 1)
}

func TestFirstLoginEndToEnd(t *testing.T) {
	server, profiles, sender := newTestServer(t)

	// Install-time capture, then signup links attribution.
	resp := doJSON(t, http.MethodPost, server.URL+"/v1/devices/dev-1/attribution",
		map[string]string{"click_id": "click-A", "campaign_id": "cmp-1"}, "")
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, server.URL+"/v1/users/user-1/attribution/link",
		map[string]string{"device_id": "dev-1"}, "user-1")
	resp.Body.Close()

	firstLogin := map[string]any{
		"device_id":       "dev-1",
		"email":           "jane@example.com",
		"signup_method":   "email",
		"consent_granted": true,
		"is_first_login":  true,
		"device":          map[string]any{"platform": "i2", "bundle_id": "com.ignite.companion"},
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/v1/users/user-1/first-login", firstLogin, "user-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, true, result["install_sent"])
	assert.Equal(t, true, result["registration_sent"])
	assert.Equal(t, true, result["marker_set"])

	require.NotNil(t, profiles.records["user-1"].FirstAppLoginAt)
	require.Len(t, sender.delivered, 2)
	assert.Equal(t, "click-A", sender.delivered[0].ClickID)

	// Relaunch: marker gates everything, zero new sends.
	resp = doJSON(t, http.MethodPost, server.URL+"/v1/users/user-1/first-login", firstLogin, "user-1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, true, result["skipped"])
	assert.Len(t, sender.delivered, 2)
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
