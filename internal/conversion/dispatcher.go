// Package conversion delivers the Install and Registration conversion
// events to the ad-attribution API exactly-once in effect, despite crashes,
// offline periods, and token propagation races. The durable first-login
// marker on the user record gates re-dispatch; the device-local install
// flag prevents a duplicate Install on crash-retry; a duplicate
// Registration is deliberately tolerated in that rare case rather than ever
// missing a conversion record.
package conversion

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/attribution-relay/internal/capi"
	"github.com/ignite/attribution-relay/internal/device"
	"github.com/ignite/attribution-relay/internal/pkg/logger"
	"github.com/ignite/attribution-relay/internal/pkg/retry"
	"github.com/ignite/attribution-relay/internal/profile"
	"github.com/ignite/attribution-relay/internal/telemetry"
)

// Sender delivers one conversion event; satisfied by *capi.Client.
type Sender interface {
	SendEvent(ctx context.Context, event capi.Event) error
}

// MarkerWriter writes the durable first-login marker; satisfied by
// *profile.Client.
type MarkerWriter interface {
	MarkFirstLogin(ctx context.Context, userID string, at time.Time) error
}

// FirstLoginRequest carries everything the first-login dispatch needs.
// FirstLoginHint is the client's own belief ("this was my first login");
// it is untrustworthy after a crash and is used for logging only. The
// durable marker always decides.
type FirstLoginRequest struct {
	UserID         string
	DeviceID       string
	Identity       Identity
	SignupMethod   string
	Device         device.Info
	EventTime      time.Time
	ConsentGranted bool
	FirstLoginHint bool
}

// Result reports what one dispatch attempt actually did.
type Result struct {
	Skipped          bool
	InstallSent      bool
	InstallSkipped   bool
	RegistrationSent bool
	MarkerSet        bool
}

// Dispatcher composes payloads and performs delivery.
type Dispatcher struct {
	sender Sender
	guard  *Guard
	marker MarkerWriter
	policy *retry.Policy
	audit  *telemetry.Publisher
	now    func() time.Time
}

// NewDispatcher creates an event dispatcher. audit may be nil to disable
// the outcome trail.
func NewDispatcher(sender Sender, guard *Guard, marker MarkerWriter, policy *retry.Policy, audit *telemetry.Publisher) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		guard:  guard,
		marker: marker,
		policy: policy,
		audit:  audit,
		now:    time.Now,
	}
}

// SetNow overrides the clock (useful for testing).
func (d *Dispatcher) SetNow(now func() time.Time) { d.now = now }

func (d *Dispatcher) buildEvent(name capi.EventName, req FirstLoginRequest, attr *profile.Attribution) capi.Event {
	evt := capi.Event{
		EventName:                 name,
		EventTime:                 device.NormalizeEventTime(req.EventTime, d.now()),
		ExtInfo:                   device.Fingerprint(req.Device),
		HashedEmail:               HashEmail(req.Identity.Email),
		ExternalUserID:            req.Identity.UserID,
		AdvertiserTrackingEnabled: req.ConsentGranted,
	}
	if attr != nil {
		evt.ClickID = attr.ClickID
		evt.CampaignID = attr.CampaignID
	}
	return evt
}

// SendInstallEvent delivers a single Install event through the retry policy.
func (d *Dispatcher) SendInstallEvent(ctx context.Context, req FirstLoginRequest, attr *profile.Attribution) error {
	evt := d.buildEvent(capi.EventAppInstall, req, attr)
	return d.policy.Execute(ctx, func(ctx context.Context) error {
		return d.sender.SendEvent(ctx, evt)
	})
}

// SendRegistrationEvent delivers a single Registration event through the
// retry policy.
func (d *Dispatcher) SendRegistrationEvent(ctx context.Context, req FirstLoginRequest, attr *profile.Attribution) error {
	evt := d.buildEvent(capi.EventCompleteRegistration, req, attr)
	evt.RegistrationMethod = req.SignupMethod
	return d.policy.Execute(ctx, func(ctx context.Context) error {
		return d.sender.SendEvent(ctx, evt)
	})
}

// ReportFirstLogin runs the full first-login dispatch sequence:
//
//  1. durable marker check; set means a previous attempt completed fully,
//     so skip everything regardless of local flags or the client's hint
//  2. Install event, unless the device-local flag says it was already
//     confirmed; flag written only after the API accepts the event
//  3. Registration event, always, even when Install went out through
//     another path
//  4. marker write, only after both sends are confirmed
//
// A crash between 2 and 4 re-runs the whole sequence on the next login: the
// flag suppresses a duplicate Install, Registration re-sends (tolerated),
// and the marker eventually lands. Send and marker-write failures are
// logged and reflected in Result, never propagated, because onboarding must
// not block on telemetry. The only returned errors are storage reads failing
// before any send, where proceeding blindly could cause duplicates.
func (d *Dispatcher) ReportFirstLogin(ctx context.Context, req FirstLoginRequest) (Result, error) {
	var res Result

	proceed, rec, err := d.guard.ShouldDispatchFirstLoginEvents(ctx, req.UserID)
	if err != nil {
		return res, err
	}
	if !proceed {
		logger.Info("first-login events already delivered, skipping",
			"user_id", req.UserID, "first_login_hint", req.FirstLoginHint)
		d.publish(req, "first_login_dispatch", telemetry.OutcomeSkipped, nil, "marker already set")
		res.Skipped = true
		return res, nil
	}

	var attr *profile.Attribution
	if rec != nil {
		attr = rec.Attribution
	}

	sendInstall, err := d.guard.ShouldSendInstall(ctx, req.DeviceID)
	if err != nil {
		return res, err
	}

	installOK := true
	if sendInstall {
		if err := d.SendInstallEvent(ctx, req, attr); err != nil {
			installOK = false
			logger.Error("install event delivery failed",
				"user_id", req.UserID, "device_id", req.DeviceID,
				"class", retry.Classify(err).String(), "error", err.Error())
			d.publish(req, string(capi.EventAppInstall), telemetry.OutcomeFailed, err, "")
		} else {
			res.InstallSent = true
			d.publish(req, string(capi.EventAppInstall), telemetry.OutcomeSent, nil, "")
			if err := d.guard.devices.MarkInstallSent(ctx, req.DeviceID); err != nil {
				// Worst case the flag stays unset and the external API
				// sees one extra Install on the next crash-retry.
				logger.Error("install-sent flag write failed", "device_id", req.DeviceID, "error", err.Error())
			}
		}
	} else {
		res.InstallSkipped = true
		logger.Debug("install already confirmed for device", "device_id", req.DeviceID)
		d.publish(req, string(capi.EventAppInstall), telemetry.OutcomeSkipped, nil, "install flag set")
	}

	if err := d.SendRegistrationEvent(ctx, req, attr); err != nil {
		logger.Error("registration event delivery failed",
			"user_id", req.UserID, "class", retry.Classify(err).String(), "error", err.Error())
		d.publish(req, string(capi.EventCompleteRegistration), telemetry.OutcomeFailed, err, "")
		return res, nil
	}
	res.RegistrationSent = true
	d.publish(req, string(capi.EventCompleteRegistration), telemetry.OutcomeSent, nil, "")

	if !installOK {
		// Marker stays unset so the next login retries the sequence.
		return res, nil
	}

	if err := d.marker.MarkFirstLogin(ctx, req.UserID, d.now().UTC()); err != nil {
		if errors.Is(err, profile.ErrMarkerAlreadySet) {
			res.MarkerSet = true
			return res, nil
		}
		// Swallowed: the cost of a missed marker write is one duplicate
		// Registration on the next login, which is tolerated.
		logger.Error("first-login marker write failed", "user_id", req.UserID, "error", err.Error())
		d.publish(req, "first_login_marker", telemetry.OutcomeFailed, err, "")
		return res, nil
	}
	res.MarkerSet = true
	return res, nil
}

func (d *Dispatcher) publish(req FirstLoginRequest, eventName string, outcome telemetry.Outcome, sendErr error, reason string) {
	evt := telemetry.DispatchEvent{
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		EventName: eventName,
		Outcome:   outcome,
		Reason:    reason,
	}
	if sendErr != nil {
		evt.ErrorClass = retry.Classify(sendErr).String()
	}
	d.audit.Publish(evt)
}
