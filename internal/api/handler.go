// Package api exposes the relay's HTTP surface to the mobile client. The
// client drives each lifecycle point (install capture, post-login linking,
// consent prompt result, first-login dispatch) through these endpoints.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/attribution-relay/internal/attribution"
	"github.com/ignite/attribution-relay/internal/authgate"
	"github.com/ignite/attribution-relay/internal/consent"
	"github.com/ignite/attribution-relay/internal/conversion"
	"github.com/ignite/attribution-relay/internal/device"
	"github.com/ignite/attribution-relay/internal/pkg/httputil"
	"github.com/ignite/attribution-relay/internal/pkg/logger"
)

type Handler struct {
	store      *attribution.Store
	dispatcher *conversion.Dispatcher
	consents   *consent.Recorder
	gate       *authgate.Gate
}

func NewHandler(store *attribution.Store, dispatcher *conversion.Dispatcher, consents *consent.Recorder, gate *authgate.Gate) *Handler {
	return &Handler{store: store, dispatcher: dispatcher, consents: consents, gate: gate}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Session-ID", "X-User-ID"},
	}))

	// Pre-auth: attribution capture happens before any credential exists.
	r.Post("/v1/devices/{deviceID}/attribution", h.HandleCapture)

	// Privileged: everything touching the durable user record.
	r.Post("/v1/users/{userID}/attribution/link", h.HandleLink)
	r.Get("/v1/users/{userID}/attribution", h.HandleGetAttribution)
	r.Post("/v1/users/{userID}/consent", h.HandleConsent)
	r.Post("/v1/users/{userID}/first-login", h.HandleFirstLogin)

	r.Get("/health", h.HandleHealth)
	return r
}

// credential extracts the session credential from request headers. Returns
// nil when no usable credential is present; the gate turns that into a hard
// auth error.
func credential(r *http.Request) *authgate.Credential {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		return nil
	}
	return &authgate.Credential{
		SessionID:    r.Header.Get("X-Session-ID"),
		UserID:       r.Header.Get("X-User-ID"),
		RefreshToken: token,
	}
}

// ensureReady runs the auth readiness gate for a user-scoped request.
// Gate failures are hard errors: proceeding would only produce a misleading
// authorization failure deeper in the stack.
func (h *Handler) ensureReady(w http.ResponseWriter, r *http.Request, userID string) bool {
	if err := h.gate.EnsureReady(r.Context(), credential(r), userID); err != nil {
		logger.Warn("auth readiness gate rejected request", "user_id", userID, "error", err.Error())
		httputil.Error(w, http.StatusUnauthorized, "auth not ready")
		return false
	}
	return true
}

type captureRequest struct {
	ClickID    string `json:"click_id"`
	CampaignID string `json:"campaign_id"`
}

func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if deviceID == "" {
		httputil.BadRequest(w, "device id required")
		return
	}

	var req captureRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	err := h.store.Capture(r.Context(), deviceID, attribution.Params{
		ClickID:    req.ClickID,
		CampaignID: req.CampaignID,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

type linkRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !h.ensureReady(w, r, userID) {
		return
	}

	var req linkRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		httputil.BadRequest(w, "device id required")
		return
	}

	if err := h.store.ConsumeForUser(r.Context(), req.DeviceID, userID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handler) HandleGetAttribution(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !h.ensureReady(w, r, userID) {
		return
	}

	attr, err := h.store.GetForUser(r.Context(), userID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if attr == nil {
		httputil.NotFound(w, "no attribution linked")
		return
	}
	httputil.OK(w, attr)
}

type consentRequest struct {
	Result string `json:"result"`
}

func (h *Handler) HandleConsent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !h.ensureReady(w, r, userID) {
		return
	}

	var req consentRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	status, err := h.consents.RecordPromptResult(r.Context(), userID, req.Result)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(status)})
}

type firstLoginRequest struct {
	DeviceID       string      `json:"device_id"`
	Email          string      `json:"email,omitempty"`
	SignupMethod   string      `json:"signup_method,omitempty"`
	Device         device.Info `json:"device"`
	EventTime      time.Time   `json:"event_time,omitempty"`
	ConsentGranted bool        `json:"consent_granted"`
	IsFirstLogin   bool        `json:"is_first_login"`
}

// HandleFirstLogin runs the first-login conversion dispatch. The response
// is 200 with the dispatch result even when sends failed internally: the
// onboarding flow on the client must never block on telemetry, and the
// durable marker guarantees a safe retry on the next login.
func (h *Handler) HandleFirstLogin(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !h.ensureReady(w, r, userID) {
		return
	}

	var req firstLoginRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		httputil.BadRequest(w, "device id required")
		return
	}

	res, err := h.dispatcher.ReportFirstLogin(r.Context(), conversion.FirstLoginRequest{
		UserID:         userID,
		DeviceID:       req.DeviceID,
		Identity:       conversion.Identity{UserID: userID, Email: req.Email},
		SignupMethod:   req.SignupMethod,
		Device:         req.Device,
		EventTime:      req.EventTime,
		ConsentGranted: req.ConsentGranted,
		FirstLoginHint: req.IsFirstLogin,
	})
	if err != nil {
		// Dispatch could not even read its durable state. Still a 200:
		// the client flow completes, the next login retries.
		logger.Error("first-login dispatch aborted", "user_id", userID, "error", err.Error())
	}

	httputil.OK(w, map[string]any{
		"skipped":           res.Skipped,
		"install_sent":      res.InstallSent,
		"registration_sent": res.RegistrationSent,
		"marker_set":        res.MarkerSet,
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}
