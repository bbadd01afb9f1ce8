package history

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/moodo-bridge/internal/coordinator"
	"github.com/nerrad567/moodo-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/moodo-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/moodo-bridge/internal/moodo"
)

// recordTimeout bounds a single history insert so a slow disk can't stall
// the coordinator's notification path.
const recordTimeout = 5 * time.Second

// pruneInterval is how often expired history rows are swept.
const pruneInterval = 6 * time.Hour

// Recorder persists coordinator state changes to SQLite and mirrors
// numeric telemetry to InfluxDB.
//
// It implements coordinator.Listener. Optimistic command-source updates
// are NOT recorded: they reflect what we asked for, not what the box
// confirmed, and the confirming poll or stream event follows shortly.
//
// Thread Safety:
//   - Safe for concurrent use; both sinks handle their own locking.
type Recorder struct {
	repo   Repository
	influx *influxdb.Client
	logger *logging.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder creates a state change recorder.
//
// Parameters:
//   - repo: History repository (required)
//   - influx: Metrics client; may be nil or disconnected, writes are then skipped
//   - logger: Structured logger; falls back to the default logger when nil
func NewRecorder(repo Repository, influx *influxdb.Client, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{
		repo:   repo,
		influx: influx,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// StartPruning begins periodic deletion of history rows older than
// retention. A retention of zero or less disables pruning. Call Stop to
// shut the sweep loop down.
func (r *Recorder) StartPruning(retention time.Duration) {
	if retention <= 0 {
		r.logger.Info("history pruning disabled")
		return
	}
	r.wg.Add(1)
	go r.pruneLoop(retention)
}

// Stop terminates the prune loop. Safe to call multiple times, and safe
// when pruning was never started.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// pruneLoop sweeps immediately, then on every pruneInterval tick.
func (r *Recorder) pruneLoop(retention time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	r.prune(retention)

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.prune(retention)
		}
	}
}

// prune deletes expired rows, logging failures. Like recording, pruning
// is best-effort.
func (r *Recorder) prune(retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	deleted, err := r.repo.PruneHistory(ctx, retention)
	if err != nil {
		r.logger.Warn("history prune failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("pruned state history",
			"rows", deleted,
			"retention", retention.String(),
		)
	}
}

// BoxUpdated records a confirmed state change. Persistence failures are
// logged and swallowed: history is best-effort and must never disturb
// state fan-out.
func (r *Recorder) BoxUpdated(box moodo.Box, source string) {
	if source == coordinator.SourceCommand {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.RecordStateChange(ctx, box, source); err != nil {
		r.logger.Warn("failed to record state change",
			"device_key", box.DeviceKey,
			"source", source,
			"error", err,
		)
	}

	r.mirrorMetrics(box)
}

// BoxesUnavailable is a no-op: unavailability is a bridge-side condition,
// not a box state worth persisting.
func (r *Recorder) BoxesUnavailable() {}

// mirrorMetrics writes the numeric parts of a snapshot to InfluxDB.
func (r *Recorder) mirrorMetrics(box moodo.Box) {
	if r.influx == nil {
		return
	}

	r.influx.WriteBoxMetric(box.DeviceKey, "fan_volume", float64(box.FanVolume))
	r.influx.WriteBoxMetric(box.DeviceKey, "box_status", float64(box.BoxStatus))
	if box.HasBattery {
		r.influx.WriteBoxMetric(box.DeviceKey, "battery_percent", float64(box.EffectiveBatteryLevel()))
	}

	for _, slot := range box.Settings {
		r.influx.WriteSlotMetric(box.DeviceKey, slot.SlotID, "fan_speed", float64(slot.FanSpeed))
		if remaining, ok := slot.FragranceRemaining(); ok {
			r.influx.WriteSlotMetric(box.DeviceKey, slot.SlotID, "fragrance_left_percent", float64(remaining))
		}
	}
}
