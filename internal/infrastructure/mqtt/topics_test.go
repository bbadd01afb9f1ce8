package mqtt

import "testing"

func TestNewTopicsDefaults(t *testing.T) {
	topics := NewTopics("", "")

	if topics.DiscoveryPrefix != DefaultDiscoveryPrefix {
		t.Errorf("DiscoveryPrefix = %q, want %q", topics.DiscoveryPrefix, DefaultDiscoveryPrefix)
	}
	if topics.BaseTopic != DefaultBaseTopic {
		t.Errorf("BaseTopic = %q, want %q", topics.BaseTopic, DefaultBaseTopic)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("homeassistant", "moodo")

	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "Discovery",
			builder: func() string {
				return topics.Discovery("fan", 12345, "fan")
			},
			expected: "homeassistant/fan/moodo_12345/fan/config",
		},
		{
			name: "DiscoverySensor",
			builder: func() string {
				return topics.Discovery("sensor", 12345, "battery")
			},
			expected: "homeassistant/sensor/moodo_12345/battery/config",
		},
		{
			name: "EntityState",
			builder: func() string {
				return topics.EntityState(12345, "fan")
			},
			expected: "moodo/12345/fan/state",
		},
		{
			name: "EntityCommand",
			builder: func() string {
				return topics.EntityCommand(12345, "shuffle")
			},
			expected: "moodo/12345/shuffle/set",
		},
		{
			name: "Availability",
			builder: func() string {
				return topics.Availability(12345)
			},
			expected: "moodo/12345/availability",
		},
		{
			name: "BridgeStatus",
			builder: func() string {
				return topics.BridgeStatus()
			},
			expected: "moodo/bridge/status",
		},
		{
			name: "BridgeHealth",
			builder: func() string {
				return topics.BridgeHealth()
			},
			expected: "moodo/bridge/health",
		},
		{
			name: "AllCommands",
			builder: func() string {
				return topics.AllCommands()
			},
			expected: "moodo/+/+/set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestTopicBuildersCustomRoots(t *testing.T) {
	topics := NewTopics("ha-disc", "aromabridge")

	if got := topics.Discovery("switch", 7, "main_power"); got != "ha-disc/switch/moodo_7/main_power/config" {
		t.Errorf("Discovery() = %q", got)
	}
	if got := topics.EntityState(7, "mode"); got != "aromabridge/7/mode/state" {
		t.Errorf("EntityState() = %q", got)
	}
	if got := topics.AllCommands(); got != "aromabridge/+/+/set" {
		t.Errorf("AllCommands() = %q", got)
	}
}
