package attribution

import "time"

// Params are the raw attribution parameters observed at install or on a
// referral click. Opaque to us; meaningful only to the ad network.
type Params struct {
	ClickID    string `json:"click_id"`
	CampaignID string `json:"campaign_id"`
}

// Record is the device-local captured attribution. Immutable once written;
// deleted only after it has been durably linked to a user.
type Record struct {
	ClickID    string    `json:"click_id"`
	CampaignID string    `json:"campaign_id"`
	CapturedAt time.Time `json:"captured_at"`
}
