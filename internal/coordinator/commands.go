package coordinator

import (
	"context"
	"fmt"

	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

// Command methods wrap the REST client with optimistic snapshot updates:
// the local state changes immediately (source SourceCommand) so Home
// Assistant sees instant feedback, and the stream or next poll confirms
// or corrects it. On command failure the optimistic change is rolled back
// by forcing a refresh.

// PowerOn turns a box on, optionally with a target fan volume.
func (c *Coordinator) PowerOn(ctx context.Context, deviceKey int, fanVolume *int) error {
	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.BoxStatus = moodo.BoxStatusOn
		if fanVolume != nil {
			box.FanVolume = *fanVolume
		}
	})

	_, err := c.api.PowerOn(ctx, deviceKey, moodo.PowerOnOptions{FanVolume: fanVolume})
	return c.settle(ctx, "power on", deviceKey, err)
}

// PowerOff turns a box off.
func (c *Coordinator) PowerOff(ctx context.Context, deviceKey int) error {
	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.BoxStatus = moodo.BoxStatusOff
	})

	_, err := c.api.PowerOff(ctx, deviceKey)
	return c.settle(ctx, "power off", deviceKey, err)
}

// SetFanVolume sets the main intensity for a box.
func (c *Coordinator) SetFanVolume(ctx context.Context, deviceKey int, fanVolume int) error {
	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.FanVolume = fanVolume
	})

	_, err := c.api.SetFanVolume(ctx, deviceKey, fanVolume)
	return c.settle(ctx, "set fan volume", deviceKey, err)
}

// SetBoxMode switches a box between diffuser and purifier mode.
func (c *Coordinator) SetBoxMode(ctx context.Context, deviceKey int, mode string) error {
	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.BoxMode = mode
	})

	_, err := c.api.SetBoxMode(ctx, deviceKey, mode)
	return c.settle(ctx, "set box mode", deviceKey, err)
}

// SetShuffle enables or disables shuffle mode. Exactly one command is
// issued; the box's interval configuration is never touched.
func (c *Coordinator) SetShuffle(ctx context.Context, deviceKey int, on bool) error {
	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.Shuffle = on
	})

	var err error
	if on {
		_, err = c.api.EnableShuffle(ctx, deviceKey)
	} else {
		_, err = c.api.DisableShuffle(ctx, deviceKey)
	}
	return c.settle(ctx, "set shuffle", deviceKey, err)
}

// SetInterval enables or disables interval mode without changing the
// interval type.
func (c *Coordinator) SetInterval(ctx context.Context, deviceKey int, on bool) error {
	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.Interval = on
	})

	var err error
	if on {
		_, err = c.api.EnableInterval(ctx, deviceKey, nil)
	} else {
		_, err = c.api.DisableInterval(ctx, deviceKey)
	}
	return c.settle(ctx, "set interval", deviceKey, err)
}

// SetIntervalType enables interval mode with the preset matching the
// given keyword.
func (c *Coordinator) SetIntervalType(ctx context.Context, deviceKey int, keyword string) error {
	it, ok := c.IntervalTypeByKeyword(keyword)
	if !ok {
		return fmt.Errorf("%w: unknown interval type %q", moodo.ErrCommand, keyword)
	}

	typeID := it.Type
	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.Interval = true
		box.IntervalType = &typeID
	})

	_, err := c.api.EnableInterval(ctx, deviceKey, &typeID)
	return c.settle(ctx, "set interval type", deviceKey, err)
}

// SetSlotFanSpeed sets one capsule slot's fan speed, preserving the other
// slots' current settings. The cloud replaces all four slots on every
// update, so the remaining slots are filled from the snapshot.
func (c *Coordinator) SetSlotFanSpeed(ctx context.Context, deviceKey, slotID, fanSpeed int) error {
	box, ok := c.Box(deviceKey)
	if !ok {
		return fmt.Errorf("%w: unknown device %d", moodo.ErrCommand, deviceKey)
	}

	slots := make(map[int]moodo.SlotFanSetting, moodo.SlotCount)
	for _, s := range box.Settings {
		slots[s.SlotID] = moodo.SlotFanSetting{FanSpeed: s.FanSpeed, FanActive: s.FanActive}
	}
	slots[slotID] = moodo.SlotFanSetting{FanSpeed: fanSpeed, FanActive: fanSpeed > 0}

	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		for i := range box.Settings {
			if box.Settings[i].SlotID == slotID {
				box.Settings[i].FanSpeed = fanSpeed
				box.Settings[i].FanActive = fanSpeed > 0
				break
			}
		}
	})

	_, err := c.api.SetFanSpeeds(ctx, deviceKey, slots)
	return c.settle(ctx, "set slot fan speed", deviceKey, err)
}

// ApplyFavoriteByTitle applies the favorite with the given title to a box.
// The optimistic update mirrors the favorite's per-capsule fan settings
// onto the matching slots.
func (c *Coordinator) ApplyFavoriteByTitle(ctx context.Context, deviceKey int, title string) error {
	fav, ok := c.FavoriteByTitle(deviceKey, title)
	if !ok {
		return fmt.Errorf("%w: favorite %q not available for device %d", moodo.ErrCommand, title, deviceKey)
	}

	byCapsule := make(map[int]moodo.FavoriteSetting, len(fav.Settings))
	for _, fs := range fav.Settings {
		if fs.CapsuleTypeCode != nil {
			byCapsule[*fs.CapsuleTypeCode] = fs
		}
	}

	c.applyOptimistic(deviceKey, func(box *moodo.Box) {
		box.FavoriteIDApplied = fav.ID
		for i := range box.Settings {
			code := box.Settings[i].CapsuleTypeCode
			if code == nil {
				continue
			}
			if fs, ok := byCapsule[*code]; ok {
				box.Settings[i].FanSpeed = fs.FanSpeed
				box.Settings[i].FanActive = fs.FanActive
			}
		}
	})

	_, err := c.api.ApplyFavorite(ctx, fav.ID, deviceKey)
	return c.settle(ctx, "apply favorite", deviceKey, err)
}

// applyOptimistic mutates the snapshot copy for a device and notifies
// listeners with SourceCommand. Slot settings are deep-copied so the
// mutation never aliases a previously published snapshot.
func (c *Coordinator) applyOptimistic(deviceKey int, mutate func(box *moodo.Box)) {
	c.mu.Lock()
	box, ok := c.boxes[deviceKey]
	if !ok {
		c.mu.Unlock()
		return
	}
	box.Settings = append([]moodo.SlotSetting(nil), box.Settings...)
	mutate(&box)
	c.boxes[deviceKey] = box
	c.pending[deviceKey] = true
	c.mu.Unlock()

	c.notifyUpdated(box, SourceCommand)
}

// settle finalises a command: on failure it logs, forces a refresh to roll
// back the optimistic update, and returns the wrapped error.
func (c *Coordinator) settle(ctx context.Context, op string, deviceKey int, err error) error {
	if err == nil {
		return nil
	}

	c.logger.Warn("command failed, refreshing to revert optimistic state",
		"operation", op,
		"device_key", deviceKey,
		"error", err,
	)
	if refreshErr := c.Refresh(ctx); refreshErr != nil {
		c.logger.Warn("post-command refresh failed", "error", refreshErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
