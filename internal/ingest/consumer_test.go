package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/agentlink-core/internal/devicedata"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/mqtt"
)

// fakeBroker captures the handler registered by Start so tests can feed
// messages directly.
type fakeBroker struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
}

func (f *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.qos = qos
	f.handler = handler
	return nil
}

type routedReading struct {
	deviceType string
	deviceID   string
	data       map[string]any
}

type fakeSink struct {
	routed []routedReading
	err    error
}

func (f *fakeSink) RouteDeviceData(_ context.Context, deviceType, deviceID string, data map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.routed = append(f.routed, routedReading{deviceType, deviceID, data})
	return nil
}

type fakeArchive struct {
	writes int
}

func (f *fakeArchive) WriteReading(string, string, map[string]any, time.Time) {
	f.writes++
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

func newTestConsumer(t *testing.T) (*Consumer, *fakeBroker, *fakeSink, *fakeArchive, *devicedata.Cache) {
	t.Helper()
	broker := &fakeBroker{}
	sink := &fakeSink{}
	archive := &fakeArchive{}
	cache := devicedata.NewCache()

	c := New(Deps{
		Broker:  broker,
		Cache:   cache,
		Sink:    sink,
		Archive: archive,
		Logger:  testLogger{},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c, broker, sink, archive, cache
}

func TestConsumerSubscribesWildcard(t *testing.T) {
	_, broker, _, _, _ := newTestConsumer(t)

	if broker.topic != "devices/+/+/data" {
		t.Errorf("subscribed to %q, want devices/+/+/data", broker.topic)
	}
	if broker.qos != 0 {
		t.Errorf("qos = %d, want 0 for device data", broker.qos)
	}
}

func TestConsumerRoutesAndCaches(t *testing.T) {
	_, broker, sink, archive, cache := newTestConsumer(t)

	payload := []byte(`{"device_id":"temp-1","device_type":"temperature_sensor","timestamp":1000,"data":{"temperature":22.5}}`)
	if err := broker.handler("devices/temperature_sensor/temp-1/data", payload); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(sink.routed) != 1 {
		t.Fatalf("routed %d readings, want 1", len(sink.routed))
	}
	r := sink.routed[0]
	if r.deviceType != "temperature_sensor" || r.deviceID != "temp-1" {
		t.Errorf("routed %s/%s", r.deviceType, r.deviceID)
	}
	if r.data["temperature"] != 22.5 {
		t.Errorf("routed data = %v", r.data)
	}

	cached, ok := cache.Get("temperature_sensor", "temp-1")
	if !ok {
		t.Fatal("reading not cached")
	}
	if cached.Timestamp != time.Unix(1000, 0).UTC() {
		t.Errorf("cached timestamp = %v", cached.Timestamp)
	}
	if archive.writes != 1 {
		t.Errorf("archive writes = %d, want 1", archive.writes)
	}
}

func TestConsumerBareAttributePayload(t *testing.T) {
	_, broker, sink, _, cache := newTestConsumer(t)

	payload := []byte(`{"motion_detected":true,"location":"hallway"}`)
	if err := broker.handler("devices/motion_sensor/m1/data", payload); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if len(sink.routed) != 1 || sink.routed[0].data["motion_detected"] != true {
		t.Errorf("routed = %+v", sink.routed)
	}
	if _, ok := cache.Get("motion_sensor", "m1"); !ok {
		t.Error("bare payload not cached")
	}
}

func TestConsumerDropsMalformedPayload(t *testing.T) {
	_, broker, sink, archive, cache := newTestConsumer(t)

	if err := broker.handler("devices/sensor/s1/data", []byte(`{not json`)); err != nil {
		t.Fatalf("malformed payload returned error: %v", err)
	}

	if len(sink.routed) != 0 || archive.writes != 0 || cache.Len() != 0 {
		t.Error("malformed payload was processed")
	}
}

func TestConsumerDropsMalformedTopic(t *testing.T) {
	_, broker, sink, _, _ := newTestConsumer(t)

	topics := []string{
		"devices/s1/data",
		"devices/sensor/s1/commands",
		"system/status",
	}
	for _, topic := range topics {
		if err := broker.handler(topic, []byte(`{"x":1}`)); err != nil {
			t.Fatalf("topic %q returned error: %v", topic, err)
		}
	}
	if len(sink.routed) != 0 {
		t.Errorf("malformed topics routed %d readings", len(sink.routed))
	}
}

func TestConsumerNilArchive(t *testing.T) {
	broker := &fakeBroker{}
	c := New(Deps{
		Broker: broker,
		Cache:  devicedata.NewCache(),
		Sink:   &fakeSink{},
		Logger: testLogger{},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	payload := []byte(`{"temperature":20.1}`)
	if err := broker.handler("devices/sensor/s1/data", payload); err != nil {
		t.Fatalf("handler with nil archive: %v", err)
	}
}
