package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading archives a device reading.
//
// Numeric and boolean attributes become fields; string attributes become
// tags alongside the device identity. The write is non-blocking; data is
// batched and sent asynchronously.
//
// Parameters:
//   - deviceType: Device classification (e.g., "temperature_sensor")
//   - deviceID: Unique identifier for the device
//   - attributes: The reading's attribute map
//   - ts: Observation timestamp
func (c *Client) WriteReading(deviceType, deviceID string, attributes map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_type": deviceType,
		"device_id":   deviceID,
	}
	fields := make(map[string]interface{})

	for key, value := range attributes {
		switch v := value.(type) {
		case float64:
			fields[key] = v
		case int:
			fields[key] = float64(v)
		case int64:
			fields[key] = float64(v)
		case bool:
			fields[key] = v
		case string:
			tags[key] = v
		}
	}

	if len(fields) == 0 {
		return // Nothing measurable to archive
	}

	point := write.NewPoint("device_readings", tags, fields, ts)
	c.writeAPI.WritePoint(point)
}
