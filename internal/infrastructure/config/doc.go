// Package config loads and validates the Moodo bridge configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by MOODO_BRIDGE_* environment variables. Secrets
// (the Moodo account password, MQTT credentials, the InfluxDB token) are
// expected to arrive via the environment in production deployments.
package config
