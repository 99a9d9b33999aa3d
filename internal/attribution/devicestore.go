package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeviceStore is the device-local tier: the captured attribution record and
// the install-sent flag, keyed by an opaque device ID. This tier has the
// same trust level as on-device storage: fast, but gone after a reinstall.
// Nothing here is ever the sole basis for a skip decision.
type DeviceStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeviceStore creates a device-tier store. ttl bounds how long unconsumed
// attribution is kept; zero means no expiry.
func NewDeviceStore(client *redis.Client, ttl time.Duration) *DeviceStore {
	return &DeviceStore{client: client, ttl: ttl}
}

func recordKey(deviceID string) string {
	return fmt.Sprintf("attrib:device:%s:record", deviceID)
}

func installSentKey(deviceID string) string {
	return fmt.Sprintf("attrib:device:%s:install_sent", deviceID)
}

// Capture writes the attribution record if none exists for this device.
// First observed parameters win; later calls are no-ops. Returns true when
// this call performed the write.
func (s *DeviceStore) Capture(ctx context.Context, deviceID string, rec Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling attribution record: %w", err)
	}
	wrote, err := s.client.SetNX(ctx, recordKey(deviceID), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("storing attribution record: %w", err)
	}
	return wrote, nil
}

// Get returns the device-local record, or nil when none was captured.
func (s *DeviceStore) Get(ctx context.Context, deviceID string) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading attribution record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling attribution record: %w", err)
	}
	return &rec, nil
}

// Delete removes the device-local record. Called only after the durable
// write has been confirmed.
func (s *DeviceStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, recordKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("deleting attribution record: %w", err)
	}
	return nil
}

// InstallSent reports the device-local install-sent flag. Fast path only:
// false here does not prove the event was never sent.
func (s *DeviceStore) InstallSent(ctx context.Context, deviceID string) (bool, error) {
	n, err := s.client.Exists(ctx, installSentKey(deviceID)).Result()
	if err != nil {
		return false, fmt.Errorf("reading install-sent flag: %w", err)
	}
	return n > 0, nil
}

// MarkInstallSent sets the install-sent flag. Called only after the external
// API confirmed acceptance of the Install event.
func (s *DeviceStore) MarkInstallSent(ctx context.Context, deviceID string) error {
	if err := s.client.Set(ctx, installSentKey(deviceID), "1", 0).Err(); err != nil {
		return fmt.Errorf("setting install-sent flag: %w", err)
	}
	return nil
}
