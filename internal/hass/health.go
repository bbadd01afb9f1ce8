package hass

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/moodo-bridge/internal/infrastructure/logging"
)

// defaultHealthInterval is how often the bridge publishes its health
// report when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// healthMessage is the JSON payload on the bridge health topic.
type healthMessage struct {
	Status        string    `json:"status"` // healthy or degraded
	Reason        string    `json:"reason,omitempty"`
	Version       string    `json:"version"`
	Boxes         int       `json:"boxes"`
	BoxesOnline   int       `json:"boxes_online"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// HealthReporter periodically publishes a bridge health report to MQTT.
//
// This is richer than the plain online/offline LWT: it carries box
// counts and degradation reasons for dashboards that watch the bridge
// itself.
//
// Thread Safety:
//   - Start and Stop are safe to call from any goroutine; Stop is
//     idempotent.
type HealthReporter struct {
	broker    Broker
	ctrl      Controller
	version   string
	interval  time.Duration
	startTime time.Time
	logger    *logging.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a health reporter.
//
// Parameters:
//   - broker: Connected MQTT client
//   - ctrl: Coordinator exposing snapshot availability
//   - version: Bridge version string for the report payload
//   - interval: Publish interval; <= 0 uses the 30 second default
//   - logger: Structured logger; falls back to the default logger when nil
func NewHealthReporter(broker Broker, ctrl Controller, version string, interval time.Duration, logger *logging.Logger) *HealthReporter {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthReporter{
		broker:    broker,
		ctrl:      ctrl,
		version:   version,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start() {
	h.wg.Add(1)
	go h.reportLoop()
}

// Stop stops health reporting. Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
}

// PublishNow publishes the current health report immediately.
func (h *HealthReporter) PublishNow() error {
	boxes := h.ctrl.Boxes()
	online := 0
	for _, box := range boxes {
		if box.IsOnline {
			online++
		}
	}

	msg := healthMessage{
		Status:        "healthy",
		Version:       h.version,
		Boxes:         len(boxes),
		BoxesOnline:   online,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC(),
	}
	if !h.ctrl.IsAvailable() {
		msg.Status = "degraded"
		msg.Reason = "last cloud refresh failed"
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling health report: %w", err)
	}
	return h.broker.Publish(h.broker.Topics().BridgeHealth(), payload, 1, true)
}

// reportLoop publishes on the configured interval until stopped.
func (h *HealthReporter) reportLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health report", "error", err)
	}

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health report", "error", err)
			}
		}
	}
}
