// Package hass projects coordinator snapshots into Home Assistant MQTT
// entities and routes entity commands back into coordinator operations.
//
// Each Moodo box becomes one Home Assistant device carrying:
//
//   - fan: power plus aroma intensity (speed percentage)
//   - switch: shuffle, interval
//   - select: box mode, interval type, preset (favorites matching the
//     installed capsules)
//   - number: per-slot capsule intensity
//   - sensor/binary_sensor: battery, charging, adapter, capsule names,
//     fragrance remaining, active preset
//
// Entities are announced via MQTT discovery on first sighting of a box.
// All translation here is pure: percentages are clamped to 0-100 and
// payloads parsed, but retries, optimism, and cloud quirks live in the
// coordinator and moodo packages.
//
// Availability is two-layered: the bridge LWT covers bridge loss, and a
// per-box availability topic covers both cloud unreachability and the
// box's own is_online flag. Entities use availability mode "all".
package hass
