// Package mqtt provides MQTT client connectivity for the Moodo bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for bridge offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge sits between the Moodo cloud and Home Assistant, with MQTT
// carrying all Home Assistant traffic: discovery configs, entity state,
// availability, and inbound commands.
//
//	Moodo Cloud ↔ moodo-bridge ↔ MQTT Broker ↔ Home Assistant
//
// Topic layout (see Topics):
//
//	homeassistant/<component>/moodo_<key>/<object>/config   discovery (retained)
//	moodo/<key>/<object>/state                              entity state (retained)
//	moodo/<key>/<object>/set                                commands from HA
//	moodo/<key>/availability                                per-box availability
//	moodo/bridge/status                                     bridge LWT/status
//
// # Security Considerations
//
//   - TLS is recommended for non-local brokers (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.HomeAssistant.DiscoveryPrefix, cfg.HomeAssistant.BaseTopic)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Receive all entity commands from Home Assistant
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish entity state
//	client.PublishRetained(topics.EntityState(12345, "fan"), []byte(`{"state":"ON"}`))
package mqtt
