package mqtt

import "fmt"

// Default topic roots. The discovery prefix must match Home Assistant's
// configured MQTT discovery prefix (default "homeassistant"); the base topic
// is the root for all of the bridge's own state/command traffic.
const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "moodo"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("homeassistant", "moodo")
//	stateTopic := topics.EntityState(12345, "fan")
//	// Returns: "moodo/12345/fan/state"
type Topics struct {
	// DiscoveryPrefix is the Home Assistant discovery prefix.
	DiscoveryPrefix string

	// BaseTopic is the root of the bridge's own topic tree.
	BaseTopic string
}

// NewTopics creates a Topics builder, falling back to defaults for empty values.
func NewTopics(discoveryPrefix, baseTopic string) Topics {
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	if baseTopic == "" {
		baseTopic = DefaultBaseTopic
	}
	return Topics{DiscoveryPrefix: discoveryPrefix, BaseTopic: baseTopic}
}

// Discovery returns the Home Assistant discovery config topic for an entity.
//
// Example: homeassistant/fan/moodo_12345/fan/config
func (t Topics) Discovery(component string, deviceKey int, objectID string) string {
	return fmt.Sprintf("%s/%s/moodo_%d/%s/config", t.DiscoveryPrefix, component, deviceKey, objectID)
}

// EntityState returns the state topic for one entity of a box.
//
// Example: moodo/12345/fan/state
func (t Topics) EntityState(deviceKey int, objectID string) string {
	return fmt.Sprintf("%s/%d/%s/state", t.BaseTopic, deviceKey, objectID)
}

// EntityCommand returns the command topic for one entity of a box.
//
// Example: moodo/12345/fan/set
func (t Topics) EntityCommand(deviceKey int, objectID string) string {
	return fmt.Sprintf("%s/%d/%s/set", t.BaseTopic, deviceKey, objectID)
}

// Availability returns the per-box availability topic.
// The bridge publishes "online" when the box reports is_online and the
// coordinator is healthy, "offline" otherwise.
//
// Example: moodo/12345/availability
func (t Topics) Availability(deviceKey int) string {
	return fmt.Sprintf("%s/%d/availability", t.BaseTopic, deviceKey)
}

// BridgeStatus returns the bridge-level status topic.
// Used for the LWT and graceful online/offline announcements.
//
// Example: moodo/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.BaseTopic)
}

// BridgeHealth returns the bridge health report topic.
//
// Example: moodo/bridge/health
func (t Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/bridge/health", t.BaseTopic)
}

// AllCommands returns a pattern matching every entity command topic.
//
// Pattern: moodo/+/+/set
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/+/+/set", t.BaseTopic)
}
