package hass

import (
	"fmt"
	"strconv"

	"github.com/nerrad567/moodo-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

// Entity object IDs. Each maps to one Home Assistant entity per box;
// the object ID is the third segment of the bridge's state/command topics.
const (
	objectFan           = "fan"
	objectFanPercentage = "fan_percentage"
	objectShuffle       = "shuffle"
	objectInterval      = "interval"
	objectMode          = "mode"
	objectIntervalType  = "interval_type"
	objectPreset        = "preset"
	objectBattery       = "battery"
	objectCharging      = "charging"
	objectAdapter       = "adapter"
	objectActivePreset  = "active_preset"
)

// Slot-scoped object ID builders.
func slotIntensityObject(slotID int) string { return fmt.Sprintf("slot_%d_intensity", slotID) }
func slotCapsuleObject(slotID int) string   { return fmt.Sprintf("slot_%d_capsule", slotID) }
func slotFragranceObject(slotID int) string { return fmt.Sprintf("slot_%d_fragrance", slotID) }

// Switch/availability payloads. Availability payloads are plain text
// because Home Assistant matches them byte-for-byte.
const (
	payloadOn        = "ON"
	payloadOff       = "OFF"
	payloadOnline    = "online"
	payloadOffline   = "offline"
	manufacturerName = "Moodo"
)

// presetNone is the preset select's state when no favorite is applied.
// It must appear in the option list or Home Assistant rejects the state.
const presetNone = "none"

// deviceInfo groups all of a box's entities under one Home Assistant device.
type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// availabilityRef points an entity at one availability topic.
type availabilityRef struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}

// entityConfig is the MQTT discovery payload. One struct covers every
// component type; unused fields are omitted from the JSON.
type entityConfig struct {
	Name     string `json:"name"`
	UniqueID string `json:"unique_id"`

	StateTopic    string `json:"state_topic,omitempty"`
	CommandTopic  string `json:"command_topic,omitempty"`
	ValueTemplate string `json:"value_template,omitempty"`

	// Fan-specific: power and percentage ride separate topics.
	StateValueTemplate      string `json:"state_value_template,omitempty"`
	PercentageStateTopic    string `json:"percentage_state_topic,omitempty"`
	PercentageCommandTopic  string `json:"percentage_command_topic,omitempty"`
	PercentageValueTemplate string `json:"percentage_value_template,omitempty"`

	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`

	Options []string `json:"options,omitempty"`

	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`

	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	Icon              string `json:"icon,omitempty"`
	EntityCategory    string `json:"entity_category,omitempty"`

	Availability     []availabilityRef `json:"availability,omitempty"`
	AvailabilityMode string            `json:"availability_mode,omitempty"`

	Device deviceInfo `json:"device"`
}

// discoveryEntity pairs a discovery payload with the topic it belongs on.
type discoveryEntity struct {
	component string
	objectID  string
	config    entityConfig
}

func float64Ptr(v float64) *float64 { return &v }

// buildDeviceInfo derives the Home Assistant device block from a box.
func buildDeviceInfo(box moodo.Box) deviceInfo {
	return deviceInfo{
		Identifiers:  []string{fmt.Sprintf("moodo_%d", box.DeviceKey)},
		Name:         box.Name,
		Manufacturer: manufacturerName,
		Model:        fmt.Sprintf("Moodo Box v%d", box.BoxVersion),
		SwVersion:    strconv.Itoa(box.BoxVersion),
	}
}

// buildAvailability returns the availability references shared by all of
// a box's entities: the bridge LWT plus the per-box availability topic.
// Mode "all" means the entity is available only when both say online.
func buildAvailability(topics mqtt.Topics, deviceKey int) []availabilityRef {
	return []availabilityRef{
		{Topic: topics.BridgeStatus(), PayloadAvailable: payloadOnline, PayloadNotAvailable: payloadOffline},
		{Topic: topics.Availability(deviceKey), PayloadAvailable: payloadOnline, PayloadNotAvailable: payloadOffline},
	}
}

// buildEntities returns every discovery entity for a box. intervalTypes
// and favoriteTitles feed the select option lists; both may be empty, in
// which case the corresponding selects are skipped.
func buildEntities(topics mqtt.Topics, box moodo.Box, intervalKeywords, favoriteTitles []string) []discoveryEntity {
	key := box.DeviceKey
	device := buildDeviceInfo(box)
	availability := buildAvailability(topics, key)

	base := func(name, objectID string) entityConfig {
		return entityConfig{
			Name:             name,
			UniqueID:         fmt.Sprintf("moodo_%d_%s", key, objectID),
			Availability:     availability,
			AvailabilityMode: "all",
			Device:           device,
		}
	}

	var entities []discoveryEntity

	// Main fan: power plus aroma intensity as the speed percentage.
	fan := base(box.Name, objectFan)
	fan.StateTopic = topics.EntityState(key, objectFan)
	fan.CommandTopic = topics.EntityCommand(key, objectFan)
	fan.StateValueTemplate = "{{ value_json.state }}"
	fan.PercentageStateTopic = topics.EntityState(key, objectFan)
	fan.PercentageValueTemplate = "{{ value_json.percentage }}"
	fan.PercentageCommandTopic = topics.EntityCommand(key, objectFanPercentage)
	entities = append(entities, discoveryEntity{"fan", objectFan, fan})

	shuffle := base("Shuffle", objectShuffle)
	shuffle.StateTopic = topics.EntityState(key, objectShuffle)
	shuffle.CommandTopic = topics.EntityCommand(key, objectShuffle)
	shuffle.PayloadOn = payloadOn
	shuffle.PayloadOff = payloadOff
	shuffle.Icon = "mdi:shuffle-variant"
	entities = append(entities, discoveryEntity{"switch", objectShuffle, shuffle})

	interval := base("Interval", objectInterval)
	interval.StateTopic = topics.EntityState(key, objectInterval)
	interval.CommandTopic = topics.EntityCommand(key, objectInterval)
	interval.PayloadOn = payloadOn
	interval.PayloadOff = payloadOff
	interval.Icon = "mdi:timer-outline"
	entities = append(entities, discoveryEntity{"switch", objectInterval, interval})

	if modes := box.AvailableModes(); len(modes) > 1 {
		mode := base("Mode", objectMode)
		mode.StateTopic = topics.EntityState(key, objectMode)
		mode.CommandTopic = topics.EntityCommand(key, objectMode)
		mode.Options = modes
		mode.Icon = "mdi:air-purifier"
		entities = append(entities, discoveryEntity{"select", objectMode, mode})
	}

	if len(intervalKeywords) > 0 {
		it := base("Interval Type", objectIntervalType)
		it.StateTopic = topics.EntityState(key, objectIntervalType)
		it.CommandTopic = topics.EntityCommand(key, objectIntervalType)
		it.Options = intervalKeywords
		it.EntityCategory = "config"
		entities = append(entities, discoveryEntity{"select", objectIntervalType, it})
	}

	if len(favoriteTitles) > 0 {
		preset := base("Preset", objectPreset)
		preset.StateTopic = topics.EntityState(key, objectPreset)
		preset.CommandTopic = topics.EntityCommand(key, objectPreset)
		preset.Options = append([]string{presetNone}, favoriteTitles...)
		preset.Icon = "mdi:palette"
		entities = append(entities, discoveryEntity{"select", objectPreset, preset})
	}

	// Per-slot intensity numbers and capsule sensors, keyed by slot_id.
	for _, slot := range box.Settings {
		intensity := base(fmt.Sprintf("Slot %d Intensity", slot.SlotID), slotIntensityObject(slot.SlotID))
		intensity.StateTopic = topics.EntityState(key, slotIntensityObject(slot.SlotID))
		intensity.CommandTopic = topics.EntityCommand(key, slotIntensityObject(slot.SlotID))
		intensity.Min = float64Ptr(0)
		intensity.Max = float64Ptr(100)
		intensity.Step = float64Ptr(1)
		intensity.UnitOfMeasurement = "%"
		intensity.Icon = "mdi:fan"
		entities = append(entities, discoveryEntity{"number", slotIntensityObject(slot.SlotID), intensity})

		capsule := base(fmt.Sprintf("Slot %d Capsule", slot.SlotID), slotCapsuleObject(slot.SlotID))
		capsule.StateTopic = topics.EntityState(key, slotCapsuleObject(slot.SlotID))
		capsule.Icon = "mdi:scent"
		capsule.EntityCategory = "diagnostic"
		entities = append(entities, discoveryEntity{"sensor", slotCapsuleObject(slot.SlotID), capsule})

		fragrance := base(fmt.Sprintf("Slot %d Fragrance Remaining", slot.SlotID), slotFragranceObject(slot.SlotID))
		fragrance.StateTopic = topics.EntityState(key, slotFragranceObject(slot.SlotID))
		fragrance.UnitOfMeasurement = "%"
		fragrance.StateClass = "measurement"
		fragrance.Icon = "mdi:water-percent"
		fragrance.EntityCategory = "diagnostic"
		entities = append(entities, discoveryEntity{"sensor", slotFragranceObject(slot.SlotID), fragrance})
	}

	if box.HasBattery {
		battery := base("Battery", objectBattery)
		battery.StateTopic = topics.EntityState(key, objectBattery)
		battery.UnitOfMeasurement = "%"
		battery.DeviceClass = "battery"
		battery.StateClass = "measurement"
		battery.EntityCategory = "diagnostic"
		entities = append(entities, discoveryEntity{"sensor", objectBattery, battery})

		charging := base("Charging", objectCharging)
		charging.StateTopic = topics.EntityState(key, objectCharging)
		charging.PayloadOn = payloadOn
		charging.PayloadOff = payloadOff
		charging.DeviceClass = "battery_charging"
		charging.EntityCategory = "diagnostic"
		entities = append(entities, discoveryEntity{"binary_sensor", objectCharging, charging})

		adapter := base("Power Adapter", objectAdapter)
		adapter.StateTopic = topics.EntityState(key, objectAdapter)
		adapter.PayloadOn = payloadOn
		adapter.PayloadOff = payloadOff
		adapter.DeviceClass = "plug"
		adapter.EntityCategory = "diagnostic"
		entities = append(entities, discoveryEntity{"binary_sensor", objectAdapter, adapter})
	}

	activePreset := base("Active Preset", objectActivePreset)
	activePreset.StateTopic = topics.EntityState(key, objectActivePreset)
	activePreset.Icon = "mdi:star"
	activePreset.EntityCategory = "diagnostic"
	entities = append(entities, discoveryEntity{"sensor", objectActivePreset, activePreset})

	return entities
}
