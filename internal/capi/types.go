package capi

// EventName identifies a conversion event kind. Exactly two are reported.
type EventName string

const (
	EventAppInstall           EventName = "AppInstall"
	EventCompleteRegistration EventName = "CompleteRegistration"
)

// Config holds conversion events API credentials and endpoint settings
type Config struct {
	BaseURL        string `yaml:"base_url"`
	AppID          string `yaml:"app_id"`
	AccessToken    string `yaml:"access_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Event is the wire payload for a single conversion event. It is built
// fresh for every attempt and never persisted.
type Event struct {
	EventName EventName `json:"event_name"`
	EventTime int64     `json:"event_time"` // unix seconds, pre-normalized

	// Fixed 16-element device descriptor; positional, empty strings for
	// unknown fields.
	ExtInfo []string `json:"extinfo"`

	// Identity hints, both optional.
	HashedEmail    string `json:"hashed_email,omitempty"` // sha256 of lowercased, trimmed email
	ExternalUserID string `json:"external_user_id,omitempty"`

	// Attribution, both optional.
	ClickID    string `json:"click_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`

	// Registration only: how the account was created (email, apple, google).
	RegistrationMethod string `json:"registration_method,omitempty"`

	AdvertiserTrackingEnabled bool `json:"advertiser_tracking_enabled"`
}

type eventRequest struct {
	AppID  string  `json:"app_id"`
	Events []Event `json:"events"`
}

type eventResponse struct {
	EventsReceived int `json:"events_received"`
	Error          *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}
