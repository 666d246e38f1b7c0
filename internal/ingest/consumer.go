package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/agentlink-core/internal/devicedata"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/mqtt"
)

// Subscriber is the broker surface the consumer needs. *mqtt.Client
// satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// DataSink receives parsed readings for fan-out. *routing.Router
// satisfies it.
type DataSink interface {
	RouteDeviceData(ctx context.Context, deviceType, deviceID string, data map[string]any) error
}

// Archiver stores readings long-term. *influxdb.Client satisfies it.
// Archival is fire-and-forget; the consumer never waits on it.
type Archiver interface {
	WriteReading(deviceType, deviceID string, attributes map[string]any, ts time.Time)
}

// Logger is the minimal logging surface the consumer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Consumer bridges the broker's device-data topics into the cache and
// the router.
type Consumer struct {
	broker  Subscriber
	cache   *devicedata.Cache
	sink    DataSink
	archive Archiver // nil disables archival
	logger  Logger

	topics mqtt.Topics
}

// Deps bundles the collaborators a Consumer needs. Archive may be nil.
type Deps struct {
	Broker  Subscriber
	Cache   *devicedata.Cache
	Sink    DataSink
	Archive Archiver
	Logger  Logger
}

// New creates a Consumer. Start must be called to begin consuming.
func New(deps Deps) *Consumer {
	return &Consumer{
		broker:  deps.Broker,
		cache:   deps.Cache,
		sink:    deps.Sink,
		archive: deps.Archive,
		logger:  deps.Logger,
	}
}

// Start subscribes to the device-data wildcard topic. The subscription
// survives broker reconnects; ctx bounds the lifetime of fan-out calls
// made from broker callbacks.
func (c *Consumer) Start(ctx context.Context) error {
	handler := func(topic string, payload []byte) error {
		return c.handleDeviceData(ctx, topic, payload)
	}

	qos := mqtt.QoSForClass(mqtt.ClassDeviceData)
	if err := c.broker.Subscribe(c.topics.AllDeviceData(), qos, handler); err != nil {
		return fmt.Errorf("subscribing to device data: %w", err)
	}

	c.logger.Debug("device data intake started", "topic", c.topics.AllDeviceData())
	return nil
}

// handleDeviceData parses one broker message and feeds it onward. A
// payload or topic that fails to parse is dropped with a warning; the
// returned error is only for the wrapped handler's own logging.
func (c *Consumer) handleDeviceData(ctx context.Context, topic string, payload []byte) error {
	deviceType, deviceID, err := parseDataTopic(topic)
	if err != nil {
		c.logger.Warn("dropping message on malformed topic", "topic", topic, "error", err)
		return nil
	}

	attributes, ts, err := parsePayload(payload)
	if err != nil {
		c.logger.Warn("dropping malformed device payload",
			"topic", topic, "device_id", deviceID, "error", err)
		return nil
	}

	c.cache.Update(deviceType, deviceID, attributes, ts)

	if err := c.sink.RouteDeviceData(ctx, deviceType, deviceID, attributes); err != nil {
		c.logger.Error("routing device data failed",
			"device_type", deviceType, "device_id", deviceID, "error", err)
		return err
	}

	if c.archive != nil {
		c.archive.WriteReading(deviceType, deviceID, attributes, ts)
	}
	return nil
}

// parseDataTopic extracts device type and ID from a
// devices/{type}/{id}/data topic.
func parseDataTopic(topic string) (deviceType, deviceID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "devices" || parts[3] != "data" {
		return "", "", fmt.Errorf("topic %q is not a device data topic", topic)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("topic %q has empty segments", topic)
	}
	return parts[1], parts[2], nil
}

// parsePayload decodes a device message body. Devices publish either
// {device_id, device_type, timestamp, data} or a bare attribute map;
// both are accepted. A "timestamp" field carries unix seconds.
func parsePayload(payload []byte) (map[string]any, time.Time, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding payload: %w", err)
	}

	ts := time.Now().UTC()
	if secs, ok := body["timestamp"].(float64); ok {
		ts = time.Unix(int64(secs), int64((secs-float64(int64(secs)))*1e9)).UTC()
	}

	if data, ok := body["data"].(map[string]any); ok {
		return data, ts, nil
	}
	return body, ts, nil
}
