package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteBoxMetric writes a single Moodo box measurement to InfluxDB.
//
// This is the primary method for recording box telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceKey: Numeric box identifier from the Moodo cloud
//   - measurement: The metric name (e.g., "fan_volume", "battery_percent")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteBoxMetric(12345, "fan_volume", 70)
//	client.WriteBoxMetric(12345, "battery_percent", 82)
func (c *Client) WriteBoxMetric(deviceKey int, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"box_metrics",
		map[string]string{
			"device_key":  strconv.Itoa(deviceKey),
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSlotMetric writes a per-capsule-slot measurement.
//
// Used for tracking fragrance consumption per slot over time.
//
// Parameters:
//   - deviceKey: Numeric box identifier
//   - slotID: Capsule slot index (0-3)
//   - measurement: The metric name (e.g., "fragrance_left_percent", "fan_speed")
//   - value: The metric value
func (c *Client) WriteSlotMetric(deviceKey int, slotID int, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"slot_metrics",
		map[string]string{
			"device_key":  strconv.Itoa(deviceKey),
			"slot_id":     strconv.Itoa(slotID),
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("bridge_stats",
//	    map[string]string{"instance": "moodo-bridge"},
//	    map[string]interface{}{"boxes_online": 3, "stream_connected": true})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
