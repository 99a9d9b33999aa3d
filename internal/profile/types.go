package profile

import "time"

// ConsentStatus mirrors the platform tracking-authorization states.
type ConsentStatus string

const (
	ConsentNotDetermined ConsentStatus = "not_determined"
	ConsentAuthorized    ConsentStatus = "authorized"
	ConsentDenied        ConsentStatus = "denied"
	ConsentRestricted    ConsentStatus = "restricted"
)

// Attribution is the durable, per-user copy of the install attribution.
// Written once by the linking step and never overwritten.
type Attribution struct {
	ClickID    string    `json:"click_id" dynamodbav:"clickId"`
	CampaignID string    `json:"campaign_id" dynamodbav:"campaignId"`
	CapturedAt time.Time `json:"captured_at" dynamodbav:"capturedAt"`
	LinkedAt   time.Time `json:"linked_at" dynamodbav:"linkedAt"`
}

// PromptEvent is one entry in the append-only consent history.
type PromptEvent struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	Action    string    `json:"action" dynamodbav:"action"` // "shown", "granted", "denied", "restricted"
}

// Record is the per-user durable item. firstAppLoginAt is the authoritative
// idempotency marker for conversion-event dispatch: absent until both
// required events are confirmed delivered, then set exactly once.
type Record struct {
	PK                       string        `dynamodbav:"PK"`
	SK                       string        `dynamodbav:"SK"`
	UserID                   string        `json:"user_id" dynamodbav:"userId"`
	FirstAppLoginAt          *time.Time    `json:"first_app_login_at,omitempty" dynamodbav:"firstAppLoginAt,omitempty"`
	TrackingPermissionStatus ConsentStatus `json:"tracking_permission_status,omitempty" dynamodbav:"trackingPermissionStatus,omitempty"`
	TrackingPromptHistory    []PromptEvent `json:"tracking_prompt_history,omitempty" dynamodbav:"trackingPromptHistory,omitempty"`
	Attribution              *Attribution  `json:"attribution,omitempty" dynamodbav:"attribution,omitempty"`
	UpdatedAt                time.Time     `json:"updated_at" dynamodbav:"updatedAt"`
}
