package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/moodo-bridge/internal/infrastructure/config"
	"github.com/nerrad567/moodo-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/moodo-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

// Controller is the slice of the coordinator the publisher depends on.
// Satisfied by *coordinator.Coordinator; tests substitute a mock.
type Controller interface {
	Box(deviceKey int) (moodo.Box, bool)
	Boxes() []moodo.Box
	IsAvailable() bool
	IntervalTypes() []moodo.IntervalType
	IntervalType(typeID int) (moodo.IntervalType, bool)
	Favorite(id string) (moodo.Favorite, bool)
	AvailableFavorites(deviceKey int) []moodo.Favorite

	PowerOn(ctx context.Context, deviceKey int, fanVolume *int) error
	PowerOff(ctx context.Context, deviceKey int) error
	SetFanVolume(ctx context.Context, deviceKey, fanVolume int) error
	SetBoxMode(ctx context.Context, deviceKey int, mode string) error
	SetShuffle(ctx context.Context, deviceKey int, on bool) error
	SetInterval(ctx context.Context, deviceKey int, on bool) error
	SetIntervalType(ctx context.Context, deviceKey int, keyword string) error
	SetSlotFanSpeed(ctx context.Context, deviceKey, slotID, fanSpeed int) error
	ApplyFavoriteByTitle(ctx context.Context, deviceKey int, title string) error
}

// Broker is the slice of the MQTT client the publisher uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishString(topic string, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
}

// Publisher translates coordinator snapshots into Home Assistant MQTT
// entities and routes command topics back into coordinator operations.
//
// It implements coordinator.Listener. Entities are pure projections of
// the snapshot: all Moodo semantics (optimism, echo handling, retries)
// live in the coordinator.
//
// Thread Safety:
//   - Safe for concurrent use. Listener callbacks and MQTT command
//     handlers may run on different goroutines.
type Publisher struct {
	broker Broker
	ctrl   Controller
	cfg    config.HomeAssistantConfig
	logger *logging.Logger

	mu         sync.Mutex
	discovered map[int]bool
	// lastOnline tracks each box's last published availability so
	// transitions publish once, not on every snapshot.
	lastOnline map[int]bool
}

// NewPublisher creates a Home Assistant MQTT publisher.
//
// Parameters:
//   - broker: Connected MQTT client
//   - ctrl: Coordinator exposing snapshots and commands
//   - cfg: Home Assistant integration settings (discovery prefix, retain)
//   - logger: Structured logger; falls back to the default logger when nil
func NewPublisher(broker Broker, ctrl Controller, cfg config.HomeAssistantConfig, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		broker:     broker,
		ctrl:       ctrl,
		cfg:        cfg,
		logger:     logger,
		discovered: make(map[int]bool),
		lastOnline: make(map[int]bool),
	}
}

// Start subscribes to the command topic tree and announces every box
// currently in the snapshot.
func (p *Publisher) Start() error {
	topics := p.broker.Topics()
	if err := p.broker.Subscribe(topics.AllCommands(), byte(p.cfg.QoS), p.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}

	for _, box := range p.ctrl.Boxes() {
		p.BoxUpdated(box, "")
	}
	return nil
}

// BoxUpdated publishes discovery (first sighting only), state, and
// availability for a box. Publish failures are logged and swallowed; the
// next update retries naturally.
func (p *Publisher) BoxUpdated(box moodo.Box, _ string) {
	p.ensureDiscovered(box)
	p.publishState(box)
	p.publishAvailability(box.DeviceKey, box.IsOnline)
}

// BoxesUnavailable marks every known box offline. Home Assistant then
// shows the entities as unavailable until the next successful refresh.
func (p *Publisher) BoxesUnavailable() {
	p.mu.Lock()
	keys := make([]int, 0, len(p.discovered))
	for key := range p.discovered {
		keys = append(keys, key)
	}
	p.mu.Unlock()

	for _, key := range keys {
		p.publishAvailability(key, false)
	}
}

// ensureDiscovered publishes the discovery configs for a box exactly once
// per bridge run.
func (p *Publisher) ensureDiscovered(box moodo.Box) {
	p.mu.Lock()
	if p.discovered[box.DeviceKey] {
		p.mu.Unlock()
		return
	}
	p.discovered[box.DeviceKey] = true
	p.mu.Unlock()

	if err := p.PublishDiscovery(box); err != nil {
		p.logger.Warn("discovery publish failed", "device_key", box.DeviceKey, "error", err)
	}
}

// PublishDiscovery announces all of a box's entities to Home Assistant.
func (p *Publisher) PublishDiscovery(box moodo.Box) error {
	topics := p.broker.Topics()

	var keywords []string
	for _, it := range p.ctrl.IntervalTypes() {
		keywords = append(keywords, it.Keyword)
	}
	var titles []string
	for _, f := range p.ctrl.AvailableFavorites(box.DeviceKey) {
		titles = append(titles, f.Title)
	}

	for _, entity := range buildEntities(topics, box, keywords, titles) {
		payload, err := json.Marshal(entity.config)
		if err != nil {
			return fmt.Errorf("marshalling discovery config for %s: %w", entity.objectID, err)
		}
		topic := topics.Discovery(entity.component, box.DeviceKey, entity.objectID)
		if err := p.broker.Publish(topic, payload, byte(p.cfg.QoS), p.cfg.RetainDiscovery); err != nil {
			return fmt.Errorf("publishing discovery for %s: %w", entity.objectID, err)
		}
	}

	p.logger.Info("published discovery", "device_key", box.DeviceKey, "name", box.Name)
	return nil
}

// fanState is the JSON payload on the fan state topic.
type fanState struct {
	State      string `json:"state"`
	Percentage int    `json:"percentage"`
}

// publishState projects a snapshot onto the per-entity state topics.
// All state topics are retained so Home Assistant restarts pick up the
// last known state immediately.
func (p *Publisher) publishState(box moodo.Box) {
	topics := p.broker.Topics()
	key := box.DeviceKey

	fan := fanState{State: payloadOff, Percentage: box.FanVolume}
	if box.IsOn() {
		fan.State = payloadOn
	}
	if payload, err := json.Marshal(fan); err == nil {
		p.publish(topics.EntityState(key, objectFan), string(payload))
	}

	p.publish(topics.EntityState(key, objectShuffle), onOff(box.Shuffle))
	p.publish(topics.EntityState(key, objectInterval), onOff(box.Interval))
	p.publish(topics.EntityState(key, objectMode), box.BoxMode)

	if box.IntervalType != nil {
		if it, ok := p.ctrl.IntervalType(*box.IntervalType); ok {
			p.publish(topics.EntityState(key, objectIntervalType), it.Keyword)
		}
	}

	preset := presetNone
	if box.FavoriteIDApplied != "" {
		if fav, ok := p.ctrl.Favorite(box.FavoriteIDApplied); ok {
			preset = fav.Title
		}
	}
	p.publish(topics.EntityState(key, objectActivePreset), preset)
	p.publish(topics.EntityState(key, objectPreset), preset)

	for _, slot := range box.Settings {
		p.publish(topics.EntityState(key, slotIntensityObject(slot.SlotID)), strconv.Itoa(slot.FanSpeed))
		p.publish(topics.EntityState(key, slotCapsuleObject(slot.SlotID)), slot.CapsuleTitle())
		if remaining, ok := slot.FragranceRemaining(); ok {
			p.publish(topics.EntityState(key, slotFragranceObject(slot.SlotID)), strconv.Itoa(remaining))
		}
	}

	if box.HasBattery {
		p.publish(topics.EntityState(key, objectBattery), strconv.Itoa(box.EffectiveBatteryLevel()))
		p.publish(topics.EntityState(key, objectCharging), onOff(box.IsBatteryCharging))
		p.publish(topics.EntityState(key, objectAdapter), onOff(box.EffectiveAdapterOn()))
	}
}

// publishAvailability publishes a box's availability, deduplicating
// repeat transitions.
func (p *Publisher) publishAvailability(deviceKey int, online bool) {
	p.mu.Lock()
	last, seen := p.lastOnline[deviceKey]
	if seen && last == online {
		p.mu.Unlock()
		return
	}
	p.lastOnline[deviceKey] = online
	p.mu.Unlock()

	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	topic := p.broker.Topics().Availability(deviceKey)
	if err := p.broker.PublishString(topic, payload, byte(p.cfg.QoS), true); err != nil {
		p.logger.Warn("availability publish failed", "device_key", deviceKey, "error", err)
	}
}

// publish sends one retained state payload, logging failures.
func (p *Publisher) publish(topic, payload string) {
	if err := p.broker.PublishString(topic, payload, byte(p.cfg.QoS), true); err != nil {
		p.logger.Warn("state publish failed", "topic", topic, "error", err)
	}
}

func onOff(v bool) string {
	if v {
		return payloadOn
	}
	return payloadOff
}
