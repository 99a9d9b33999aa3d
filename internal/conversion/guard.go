package conversion

import (
	"context"
	"fmt"

	"github.com/ignite/attribution-relay/internal/profile"
)

// UserReader reads the durable user record; satisfied by *profile.Client.
type UserReader interface {
	Get(ctx context.Context, userID string) (*profile.Record, error)
}

// InstallFlags is the device-local install-sent flag; satisfied by
// *attribution.DeviceStore.
type InstallFlags interface {
	InstallSent(ctx context.Context, deviceID string) (bool, error)
	MarkInstallSent(ctx context.Context, deviceID string) error
}

// Guard decides, from durable state, whether conversion events still need
// to be delivered. The durable first-login marker is authoritative; the
// device-local install flag is only a fast-path short-circuit and never the
// sole basis for skipping the whole dispatch.
type Guard struct {
	users   UserReader
	devices InstallFlags
}

// NewGuard creates an idempotency guard.
func NewGuard(users UserReader, devices InstallFlags) *Guard {
	return &Guard{users: users, devices: devices}
}

// ShouldDispatchFirstLoginEvents reads the durable marker. When
// firstAppLoginAt is already set a previous attempt completed fully, even
// if the client session believes this is the first login (e.g. after a
// crash that happened after the marker write), so the dispatch is skipped
// entirely. The user record is returned so the caller can reuse it for
// attribution fields without a second read.
func (g *Guard) ShouldDispatchFirstLoginEvents(ctx context.Context, userID string) (bool, *profile.Record, error) {
	rec, err := g.users.Get(ctx, userID)
	if err != nil {
		return false, nil, fmt.Errorf("reading first-login marker: %w", err)
	}
	if rec != nil && rec.FirstAppLoginAt != nil {
		return false, rec, nil
	}
	return true, rec, nil
}

// ShouldSendInstall reports whether the Install event still needs sending
// for this device. True when the device-local flag is unset; the flag is
// written only after the external API confirmed acceptance.
func (g *Guard) ShouldSendInstall(ctx context.Context, deviceID string) (bool, error) {
	sent, err := g.devices.InstallSent(ctx, deviceID)
	if err != nil {
		return false, fmt.Errorf("reading install-sent flag: %w", err)
	}
	return !sent, nil
}
