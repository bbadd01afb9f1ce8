package hass

import (
	"testing"

	"github.com/nerrad567/moodo-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

func findEntity(t *testing.T, entities []discoveryEntity, objectID string) discoveryEntity {
	t.Helper()
	for _, e := range entities {
		if e.objectID == objectID {
			return e
		}
	}
	t.Fatalf("entity %q not built", objectID)
	return discoveryEntity{}
}

func hasEntity(entities []discoveryEntity, objectID string) bool {
	for _, e := range entities {
		if e.objectID == objectID {
			return true
		}
	}
	return false
}

func TestBuildEntities_Fan(t *testing.T) {
	topics := mqtt.NewTopics("homeassistant", "moodo")
	entities := buildEntities(topics, testBox(1), nil, nil)

	fan := findEntity(t, entities, objectFan)
	if fan.component != "fan" {
		t.Errorf("fan component = %q", fan.component)
	}
	if fan.config.CommandTopic != "moodo/1/fan/set" {
		t.Errorf("fan command topic = %q", fan.config.CommandTopic)
	}
	if fan.config.PercentageCommandTopic != "moodo/1/fan_percentage/set" {
		t.Errorf("fan percentage command topic = %q", fan.config.PercentageCommandTopic)
	}
	if fan.config.UniqueID != "moodo_1_fan" {
		t.Errorf("fan unique id = %q", fan.config.UniqueID)
	}

	// Entities hang off the bridge LWT plus the per-box availability.
	if len(fan.config.Availability) != 2 || fan.config.AvailabilityMode != "all" {
		t.Errorf("availability = %+v mode %q", fan.config.Availability, fan.config.AvailabilityMode)
	}
	if fan.config.Availability[0].Topic != "moodo/bridge/status" {
		t.Errorf("bridge availability topic = %q", fan.config.Availability[0].Topic)
	}
}

func TestBuildEntities_SlotEntitiesKeyedBySlotID(t *testing.T) {
	topics := mqtt.NewTopics("homeassistant", "moodo")
	// Settings arrive in cloud order {2, 0}; object IDs must follow the
	// slot_id field, not the array index.
	entities := buildEntities(topics, testBox(1), nil, nil)

	if !hasEntity(entities, "slot_2_intensity") || !hasEntity(entities, "slot_0_intensity") {
		t.Error("slot intensity entities should exist for slots 2 and 0")
	}
	if hasEntity(entities, "slot_1_intensity") {
		t.Error("no entity should exist for a slot the cloud did not report")
	}

	intensity := findEntity(t, entities, "slot_2_intensity")
	if intensity.component != "number" {
		t.Errorf("slot intensity component = %q", intensity.component)
	}
	if *intensity.config.Min != 0 || *intensity.config.Max != 100 {
		t.Errorf("slot intensity range = %v..%v, want 0..100", *intensity.config.Min, *intensity.config.Max)
	}
}

func TestBuildEntities_OptionalSelects(t *testing.T) {
	topics := mqtt.NewTopics("homeassistant", "moodo")

	// No interval types or favorites known: selects are skipped.
	entities := buildEntities(topics, testBox(1), nil, nil)
	if hasEntity(entities, objectIntervalType) || hasEntity(entities, objectPreset) {
		t.Error("selects with no options should be skipped")
	}

	entities = buildEntities(topics, testBox(1), []string{"every_30_min"}, []string{"Morning"})
	it := findEntity(t, entities, objectIntervalType)
	if it.component != "select" || len(it.config.Options) != 1 {
		t.Errorf("interval type select = %+v", it)
	}
	// The "none" option leads so the idle state is always a valid choice.
	preset := findEntity(t, entities, objectPreset)
	if len(preset.config.Options) != 2 || preset.config.Options[0] != presetNone || preset.config.Options[1] != "Morning" {
		t.Errorf("preset options = %v, want [none Morning]", preset.config.Options)
	}
}

func TestBuildEntities_BatteryOnlyWhenPresent(t *testing.T) {
	topics := mqtt.NewTopics("homeassistant", "moodo")

	entities := buildEntities(topics, testBox(1), nil, nil)
	if hasEntity(entities, objectBattery) {
		t.Error("battery entities should be skipped for mains-only boxes")
	}

	box := testBox(1)
	box.HasBattery = true
	entities = buildEntities(topics, box, nil, nil)
	battery := findEntity(t, entities, objectBattery)
	if battery.config.DeviceClass != "battery" {
		t.Errorf("battery device class = %q", battery.config.DeviceClass)
	}
	if !hasEntity(entities, objectCharging) || !hasEntity(entities, objectAdapter) {
		t.Error("charging and adapter sensors should accompany the battery")
	}
}

func TestBuildEntities_ModeSelectRequiresBothModes(t *testing.T) {
	topics := mqtt.NewTopics("homeassistant", "moodo")

	// Default capability flags mean diffuser only: no select.
	entities := buildEntities(topics, testBox(1), nil, nil)
	if hasEntity(entities, objectMode) {
		t.Error("mode select should be skipped when only one mode is available")
	}

	yes := true
	box := testBox(1)
	box.IsDiffuserModeAvailable = &yes
	box.IsPurifierModeAvailable = &yes
	entities = buildEntities(topics, box, nil, nil)
	mode := findEntity(t, entities, objectMode)
	want := []string{moodo.BoxModeDiffuser, moodo.BoxModePurifier}
	if len(mode.config.Options) != 2 || mode.config.Options[0] != want[0] || mode.config.Options[1] != want[1] {
		t.Errorf("mode options = %v, want %v", mode.config.Options, want)
	}
}

func TestBuildDeviceInfo(t *testing.T) {
	box := testBox(1)
	box.BoxVersion = 3

	device := buildDeviceInfo(box)
	if len(device.Identifiers) != 1 || device.Identifiers[0] != "moodo_1" {
		t.Errorf("identifiers = %v", device.Identifiers)
	}
	if device.Name != "Bedroom" || device.Manufacturer != "Moodo" {
		t.Errorf("device = %+v", device)
	}
}
