package moodo

import "sort"

// Box power states as reported in the box_status field.
const (
	BoxStatusOff = 0
	BoxStatusOn  = 1
)

// Box operating modes.
const (
	BoxModeDiffuser = "diffuser"
	BoxModePurifier = "purifier"
)

// SlotCount is the number of capsule slots in every Moodo box.
const SlotCount = 4

// Box is a single Moodo device as reported by the cloud.
//
// DeviceKey is the numeric identifier used by all REST command endpoints;
// ID is the string identifier used for WebSocket subscriptions. Both refer
// to the same physical device.
type Box struct {
	ID                  string `json:"id"`
	DeviceKey           int    `json:"device_key"`
	Name                string `json:"name"`
	BoxVersion          int    `json:"box_version"`
	BoxStatus           int    `json:"box_status"`
	BoxMode             string `json:"box_mode"`
	FanVolume           int    `json:"fan_volume"`
	IsOnline            bool   `json:"is_online"`
	Shuffle             bool   `json:"shuffle"`
	Interval            bool   `json:"interval"`
	IntervalType        *int   `json:"interval_type,omitempty"`
	CanIntervalTurnOn   *bool  `json:"can_interval_turn_on,omitempty"`
	HasBattery          bool   `json:"has_battery"`
	BatteryLevelPercent int    `json:"battery_level_percent"`
	IsBatteryCharging   bool   `json:"is_battery_charging"`
	IsAdapterOn         bool   `json:"is_adapter_on"`
	FavoriteIDApplied   string `json:"favorite_id_applied,omitempty"`

	// Mode availability flags. Absent fields keep the cloud's historical
	// defaults: diffuser available, purifier not.
	IsDiffuserModeAvailable *bool `json:"is_diffuser_mode_available,omitempty"`
	IsPurifierModeAvailable *bool `json:"is_purifier_mode_available,omitempty"`

	// Settings holds the per-slot capsule configuration in the exact order
	// the cloud returned it. Consumers must look slots up by SlotID, never
	// by array position.
	Settings []SlotSetting `json:"settings"`
}

// SlotSetting is the configuration and telemetry for one capsule slot.
type SlotSetting struct {
	SlotID                 int          `json:"slot_id"`
	FanSpeed               int          `json:"fan_speed"`
	FanActive              bool         `json:"fan_active"`
	CapsuleTypeCode        *int         `json:"capsule_type_code,omitempty"`
	CapsuleInfo            *CapsuleInfo `json:"capsule_info,omitempty"`
	FragranceLeftPercent   *float64     `json:"fragrance_left_percent,omitempty"`
	SlotManualUsagePercent *float64     `json:"slot_manual_usage_percent,omitempty"`
	IsFanSliderMovable     *bool        `json:"is_fan_slider_movable,omitempty"`
}

// CapsuleInfo describes the fragrance capsule installed in a slot.
type CapsuleInfo struct {
	Title     string `json:"title"`
	Color     string `json:"color"`
	IsDigital bool   `json:"is_digital"`
}

// IntervalType is one of the cloud's interval mode presets.
type IntervalType struct {
	Type    int    `json:"type"`
	Keyword string `json:"keyword"`
}

// Favorite is a saved scent mix. Settings reference capsules by
// capsule_type_code, not by slot, so a favorite applies to any box
// whose installed capsule set matches.
type Favorite struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Settings []FavoriteSetting `json:"settings"`
}

// FavoriteSetting is the per-capsule fan configuration inside a favorite.
type FavoriteSetting struct {
	CapsuleTypeCode *int `json:"capsule_type_code,omitempty"`
	FanSpeed        int  `json:"fan_speed"`
	FanActive       bool `json:"fan_active"`
}

// SlotFanSetting is the fan configuration sent per slot when updating
// individual fan speeds via PUT /boxes.
type SlotFanSetting struct {
	FanSpeed  int  `json:"fan_speed"`
	FanActive bool `json:"fan_active"`
}

// IsOn reports whether the box is powered on.
func (b Box) IsOn() bool {
	return b.BoxStatus == BoxStatusOn
}

// Slot returns the settings for the given slot ID.
// Slots are matched by their slot_id field, not array position.
func (b Box) Slot(slotID int) (SlotSetting, bool) {
	for _, s := range b.Settings {
		if s.SlotID == slotID {
			return s, true
		}
	}
	return SlotSetting{}, false
}

// InstalledCapsuleCodes returns the sorted capsule type codes currently
// installed in the box. Used for favorite matching: a favorite applies
// when its required capsule set equals this set, regardless of which
// slot each capsule occupies.
func (b Box) InstalledCapsuleCodes() []int {
	codes := make([]int, 0, len(b.Settings))
	for _, s := range b.Settings {
		if s.CapsuleTypeCode != nil {
			codes = append(codes, *s.CapsuleTypeCode)
		}
	}
	sort.Ints(codes)
	return codes
}

// EffectiveBatteryLevel returns the battery percentage, correcting a cloud
// quirk: while charging the API sometimes reports 0%, which actually means
// the battery is full.
func (b Box) EffectiveBatteryLevel() int {
	if b.IsBatteryCharging && b.BatteryLevelPercent == 0 {
		return 100
	}
	return b.BatteryLevelPercent
}

// EffectiveAdapterOn reports whether the power adapter is connected.
// Charging implies the adapter is on even if the API says otherwise.
func (b Box) EffectiveAdapterOn() bool {
	if b.IsBatteryCharging {
		return true
	}
	return b.IsAdapterOn
}

// AvailableModes returns the operating modes this box supports.
// Falls back to both modes when the cloud omits the capability flags.
func (b Box) AvailableModes() []string {
	var modes []string
	if b.IsDiffuserModeAvailable == nil || *b.IsDiffuserModeAvailable {
		modes = append(modes, BoxModeDiffuser)
	}
	if b.IsPurifierModeAvailable != nil && *b.IsPurifierModeAvailable {
		modes = append(modes, BoxModePurifier)
	}
	if len(modes) == 0 {
		modes = []string{BoxModeDiffuser, BoxModePurifier}
	}
	return modes
}

// RequiredCapsuleCodes returns the sorted capsule type codes a favorite
// needs installed. Counterpart of Box.InstalledCapsuleCodes.
func (f Favorite) RequiredCapsuleCodes() []int {
	codes := make([]int, 0, len(f.Settings))
	for _, s := range f.Settings {
		if s.CapsuleTypeCode != nil {
			codes = append(codes, *s.CapsuleTypeCode)
		}
	}
	sort.Ints(codes)
	return codes
}

// FragranceRemaining returns the remaining fragrance percentage for a slot.
// Prefers the measured fragrance_left_percent; falls back to the manual
// usage setting when the capsule doesn't report consumption.
func (s SlotSetting) FragranceRemaining() (int, bool) {
	if s.FragranceLeftPercent != nil {
		return int(*s.FragranceLeftPercent + 0.5), true
	}
	if s.SlotManualUsagePercent != nil {
		return int(*s.SlotManualUsagePercent + 0.5), true
	}
	return 0, false
}

// CapsuleTitle returns the installed capsule's display name, or "Empty"
// for a vacant slot.
func (s SlotSetting) CapsuleTitle() string {
	if s.CapsuleInfo != nil && s.CapsuleInfo.Title != "" {
		return s.CapsuleInfo.Title
	}
	return "Empty"
}
