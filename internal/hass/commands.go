package hass

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// commandTimeout bounds one command round-trip to the Moodo cloud.
const commandTimeout = 15 * time.Second

// slotIntensityPrefix/Suffix frame the slot ID in slot intensity object
// IDs ("slot_2_intensity").
const (
	slotIntensityPrefix = "slot_"
	slotIntensitySuffix = "_intensity"
)

// HandleCommand routes one MQTT command message to the coordinator.
//
// Topic layout: <base>/<device_key>/<object_id>/set. Unknown devices and
// object IDs are rejected with an error (logged by the MQTT client);
// malformed payloads likewise.
func (p *Publisher) HandleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[3] != "set" {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	deviceKey, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid device key in topic %q: %w", topic, err)
	}
	if _, ok := p.ctrl.Box(deviceKey); !ok {
		return fmt.Errorf("command for unknown device %d", deviceKey)
	}

	objectID := parts[2]
	value := strings.TrimSpace(string(payload))

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	p.logger.Debug("handling command", "device_key", deviceKey, "object", objectID)

	switch {
	case objectID == objectFan:
		on, err := parseOnOff(value)
		if err != nil {
			return err
		}
		if on {
			return p.ctrl.PowerOn(ctx, deviceKey, nil)
		}
		return p.ctrl.PowerOff(ctx, deviceKey)

	case objectID == objectFanPercentage:
		pct, err := parsePercentage(value)
		if err != nil {
			return err
		}
		// Zero percent means off, mirroring how Home Assistant treats
		// fan speed zero.
		if pct == 0 {
			return p.ctrl.PowerOff(ctx, deviceKey)
		}
		return p.ctrl.SetFanVolume(ctx, deviceKey, pct)

	case objectID == objectShuffle:
		on, err := parseOnOff(value)
		if err != nil {
			return err
		}
		return p.ctrl.SetShuffle(ctx, deviceKey, on)

	case objectID == objectInterval:
		on, err := parseOnOff(value)
		if err != nil {
			return err
		}
		return p.ctrl.SetInterval(ctx, deviceKey, on)

	case objectID == objectMode:
		return p.ctrl.SetBoxMode(ctx, deviceKey, value)

	case objectID == objectIntervalType:
		return p.ctrl.SetIntervalType(ctx, deviceKey, value)

	case objectID == objectPreset:
		// "none" marks the absence of an applied favorite; the cloud
		// clears it itself when settings change. Nothing to send.
		if value == presetNone {
			return nil
		}
		return p.ctrl.ApplyFavoriteByTitle(ctx, deviceKey, value)

	default:
		slotID, ok := parseSlotIntensityObject(objectID)
		if !ok {
			return fmt.Errorf("unknown command object %q", objectID)
		}
		pct, err := parsePercentage(value)
		if err != nil {
			return err
		}
		return p.ctrl.SetSlotFanSpeed(ctx, deviceKey, slotID, pct)
	}
}

// parseOnOff interprets a switch/fan power payload.
func parseOnOff(value string) (bool, error) {
	switch strings.ToUpper(value) {
	case payloadOn:
		return true, nil
	case payloadOff:
		return false, nil
	default:
		return false, fmt.Errorf("invalid on/off payload %q", value)
	}
}

// parsePercentage parses a numeric payload and clamps it to [0, 100].
// Home Assistant number entities may send fractional values; they are
// rounded to the nearest integer.
func parsePercentage(value string) (int, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage payload %q: %w", value, err)
	}
	return clampPercent(int(math.Round(f))), nil
}

// clampPercent clamps an intensity to the valid 0-100 range.
func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// parseSlotIntensityObject extracts the slot ID from a slot intensity
// object ID ("slot_2_intensity" -> 2).
func parseSlotIntensityObject(objectID string) (int, bool) {
	if !strings.HasPrefix(objectID, slotIntensityPrefix) || !strings.HasSuffix(objectID, slotIntensitySuffix) {
		return 0, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(objectID, slotIntensityPrefix), slotIntensitySuffix)
	slotID, err := strconv.Atoi(middle)
	if err != nil || slotID < 0 {
		return 0, false
	}
	return slotID, true
}
