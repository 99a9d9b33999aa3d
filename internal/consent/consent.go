// Package consent records the tracking-authorization outcome reported by
// the client. It is the only writer of the consent fields on the user
// record; the prompt history is append-only.
package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/attribution-relay/internal/pkg/logger"
	"github.com/ignite/attribution-relay/internal/profile"
)

// Writer is the durable consent sink; satisfied by *profile.Client.
type Writer interface {
	RecordConsent(ctx context.Context, userID string, status profile.ConsentStatus, entry profile.PromptEvent) error
}

// Recorder maps raw system consent results onto the durable record.
type Recorder struct {
	users Writer
	now   func() time.Time
}

// NewRecorder creates a consent recorder.
func NewRecorder(users Writer) *Recorder {
	return &Recorder{users: users, now: time.Now}
}

// SetNow overrides the clock (useful for testing).
func (r *Recorder) SetNow(now func() time.Time) { r.now = now }

// statusFor maps the platform's raw authorization result onto our enum.
// Unrecognized values are treated as not_determined rather than rejected so
// a newer client cannot wedge consent recording.
func statusFor(raw string) (profile.ConsentStatus, string) {
	switch raw {
	case "authorized", "granted":
		return profile.ConsentAuthorized, "granted"
	case "denied":
		return profile.ConsentDenied, "denied"
	case "restricted":
		return profile.ConsentRestricted, "restricted"
	case "not_determined", "notDetermined", "":
		return profile.ConsentNotDetermined, "shown"
	default:
		return profile.ConsentNotDetermined, "shown"
	}
}

// RecordPromptResult persists the outcome of one tracking-consent prompt:
// the current status plus an appended history entry.
func (r *Recorder) RecordPromptResult(ctx context.Context, userID, rawResult string) (profile.ConsentStatus, error) {
	status, action := statusFor(rawResult)

	entry := profile.PromptEvent{
		ID:        uuid.NewString(),
		Timestamp: r.now().UTC(),
		Action:    action,
	}

	if err := r.users.RecordConsent(ctx, userID, status, entry); err != nil {
		logger.Error("consent recording failed", "user_id", userID, "status", string(status), "error", err.Error())
		return status, fmt.Errorf("recording consent: %w", err)
	}

	logger.Info("tracking consent recorded", "user_id", userID, "status", string(status), "action", action)
	return status, nil
}

// Granted reports whether a status allows attaching advertiser tracking to
// event payloads.
func Granted(status profile.ConsentStatus) bool {
	return status == profile.ConsentAuthorized
}
