// Package attribution captures ad-network attribution parameters at install
// time and links them to a user after authentication. Capture happens before
// any credential exists, so the record first lands in a device-local tier
// and is migrated to the durable user record by ConsumeForUser.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/attribution-relay/internal/pkg/logger"
	"github.com/ignite/attribution-relay/internal/profile"
)

// UserStore is the durable side of the linking step, satisfied by
// *profile.Client.
type UserStore interface {
	Get(ctx context.Context, userID string) (*profile.Record, error)
	LinkAttribution(ctx context.Context, userID string, attr profile.Attribution) error
}

// Store coordinates the two attribution tiers.
type Store struct {
	devices *DeviceStore
	users   UserStore
}

// NewStore creates the two-tier attribution store.
func NewStore(devices *DeviceStore, users UserStore) *Store {
	return &Store{devices: devices, users: users}
}

// Capture records the first attribution parameters observed for a device.
// Idempotent: a record already present wins over any later parameters.
func (s *Store) Capture(ctx context.Context, deviceID string, params Params) error {
	rec := Record{
		ClickID:    params.ClickID,
		CampaignID: params.CampaignID,
		CapturedAt: time.Now().UTC(),
	}
	wrote, err := s.devices.Capture(ctx, deviceID, rec)
	if err != nil {
		logger.Error("attribution capture failed", "device_id", deviceID, "error", err.Error())
		return err
	}
	if !wrote {
		logger.Debug("attribution already captured, keeping first record", "device_id", deviceID)
	} else {
		logger.Info("attribution captured", "device_id", deviceID, "click_id", params.ClickID, "campaign_id", params.CampaignID)
	}
	return nil
}

// ConsumeForUser migrates the device-local record into the user's durable
// record and deletes the device copy. First-writer-wins: if the user already
// has linked attribution, the durable side is left untouched and the device
// copy is discarded as consumed. The device copy is deleted only after the
// durable write is confirmed, so a failure here leaves it intact for a later
// retry instead of silently losing attribution.
func (s *Store) ConsumeForUser(ctx context.Context, deviceID, userID string) error {
	rec, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if rec == nil {
		logger.Debug("no device attribution to consume", "device_id", deviceID, "user_id", userID)
		return nil
	}

	attr := profile.Attribution{
		ClickID:    rec.ClickID,
		CampaignID: rec.CampaignID,
		CapturedAt: rec.CapturedAt,
		LinkedAt:   time.Now().UTC(),
	}

	err = s.users.LinkAttribution(ctx, userID, attr)
	switch {
	case err == nil:
		logger.Info("attribution linked to user", "user_id", userID, "click_id", rec.ClickID)
	case errors.Is(err, profile.ErrAttributionExists):
		// The user was linked before (another device, or an earlier
		// session). Never overwrite; the device copy is now consumed.
		logger.Info("user already has attribution, discarding device record", "user_id", userID)
	default:
		logger.Error("attribution link failed, keeping device record", "user_id", userID, "error", err.Error())
		return fmt.Errorf("linking attribution: %w", err)
	}

	return s.devices.Delete(ctx, deviceID)
}

// GetForUser returns the user's durable attribution record, or nil when the
// user has none linked.
func (s *Store) GetForUser(ctx context.Context, userID string) (*profile.Attribution, error) {
	rec, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Attribution, nil
}
