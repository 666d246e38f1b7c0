// Package mqtt provides MQTT client connectivity for Agentlink Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The broker decouples the core from the device fleet. Devices publish
// sensor readings on devices/{device_type}/{device_id}/data; the core
// consumes them, and publishes commands on devices/{device_id}/commands.
//
//	Devices ↔ MQTT Broker ↔ Agentlink Core ↔ Agents
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device data publications
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceData(), mqtt.QoSForClass(mqtt.ClassDeviceData),
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a command
//	topic := mqtt.Topics{}.DeviceCommand("thermostat-01")
//	client.Publish(topic, []byte(`{"action":"set_temperature","value":21.5}`), 1, false)
package mqtt
