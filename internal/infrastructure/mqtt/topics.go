package mqtt

import "fmt"

// Topic prefixes for the Agentlink namespace.
const (
	// TopicPrefixDevices is the base for all device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixAgents is the base for all agent topics.
	TopicPrefixAgents = "agents"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "system"
)

// TopicClass identifies a class of topic for QoS selection.
type TopicClass string

// Topic classes.
const (
	ClassDeviceData    TopicClass = "device_data"
	ClassDeviceCommand TopicClass = "device_command"
	ClassAgentMessage  TopicClass = "agent_message"
	ClassSystemStatus  TopicClass = "system_status"
)

// classQoS maps each topic class to its delivery guarantee. Device data is
// high-volume and tolerates loss; commands and agent messages must arrive.
var classQoS = map[TopicClass]byte{
	ClassDeviceData:    0,
	ClassDeviceCommand: 1,
	ClassAgentMessage:  1,
	ClassSystemStatus:  1,
}

// QoSForClass returns the QoS level for a topic class.
// Unknown classes default to QoS 1.
func QoSForClass(class TopicClass) byte {
	if qos, ok := classQoS[class]; ok {
		return qos
	}
	return 1
}

// Topics provides builders for Agentlink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	dataTopic := topics.DeviceData("temperature_sensor", "temp-1")
//	// Returns: "devices/temperature_sensor/temp-1/data"
type Topics struct{}

// DeviceData returns the topic a device publishes sensor readings on.
//
// Example: devices/temperature_sensor/temp-1/data
func (Topics) DeviceData(deviceType, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/data", TopicPrefixDevices, deviceType, deviceID)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: devices/switch-1/commands
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands", TopicPrefixDevices, deviceID)
}

// AgentMessages returns the topic for messages addressed to an agent.
//
// Example: agents/monitoring-agent/messages
func (Topics) AgentMessages(agentID string) string {
	return fmt.Sprintf("%s/%s/messages", TopicPrefixAgents, agentID)
}

// SystemStatus returns the system status topic.
//
// Example: system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceData returns a pattern matching all device data publications.
//
// Pattern: devices/+/+/data
func (Topics) AllDeviceData() string {
	return fmt.Sprintf("%s/+/+/data", TopicPrefixDevices)
}

// AllDeviceTopics returns a pattern matching every device topic.
// Use with caution - this receives ALL device traffic.
//
// Pattern: devices/#
func (Topics) AllDeviceTopics() string {
	return TopicPrefixDevices + "/#"
}
