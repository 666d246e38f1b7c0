package transform

import (
	"time"

	"github.com/nerrad567/agentlink-core/internal/devicedata"
)

// Relative time-range tokens accepted in agent queries.
var timeRanges = map[string]time.Duration{
	"last_minute":    time.Minute,
	"last_5_minutes": 5 * time.Minute,
	"last_hour":      time.Hour,
	"last_day":       24 * time.Hour,
}

// MaxAgeForRange resolves a time-range token to a window duration.
func MaxAgeForRange(timeRange string) (time.Duration, bool) {
	d, ok := timeRanges[timeRange]
	return d, ok
}

// BrokerToAgent converts a single broker device message
// {device_id, device_type, timestamp, data} to the agent-facing shape
// {devices: {device_id: attributes}, timestamp}.
//
// Input already bearing a "devices" key is returned unchanged, so the
// function is idempotent over its own output. Input matching neither
// shape is also returned unchanged.
func BrokerToAgent(msg map[string]any) map[string]any {
	if _, ok := msg["devices"]; ok {
		return msg
	}

	deviceID, hasID := msg["device_id"].(string)
	_, hasType := msg["device_type"]
	data, hasData := msg["data"]
	if !hasID || !hasType || !hasData {
		return msg
	}

	ts, ok := msg["timestamp"]
	if !ok {
		ts = float64(time.Now().Unix())
	}

	return map[string]any{
		"devices":   map[string]any{deviceID: data},
		"timestamp": ts,
	}
}

// QueryToBroker converts agent query parameters to the shape the cache
// query path consumes. A recognized "time_range" token is expanded to
// "max_age_seconds"; an unrecognized token passes through untouched.
// "location", "device_id" and every unrecognized key are copied as-is.
func QueryToBroker(params map[string]any) map[string]any {
	query := make(map[string]any, len(params))

	for key, value := range params {
		if key == "time_range" {
			token, _ := value.(string)
			if d, ok := timeRanges[token]; ok {
				query["max_age_seconds"] = d.Seconds()
				continue
			}
		}
		query[key] = value
	}
	return query
}

// FilterFromQuery builds a cache filter from a broker-shaped query map
// (the output of QueryToBroker). Numeric max_age_seconds values arrive
// as float64 after JSON decoding but int is tolerated.
func FilterFromQuery(query map[string]any) devicedata.Filter {
	var f devicedata.Filter

	switch v := query["max_age_seconds"].(type) {
	case float64:
		f.MaxAge = time.Duration(v * float64(time.Second))
	case int:
		f.MaxAge = time.Duration(v) * time.Second
	}
	if loc, ok := query["location"].(string); ok {
		f.Location = loc
	}
	if id, ok := query["device_id"].(string); ok {
		f.DeviceID = id
	}
	return f
}

// AgentReadings converts a cache query result to the agent-facing shape
// {devices: {device_id: attributes}, timestamp}, where timestamp is the
// newest reading in the result, or the current time for an empty result.
func AgentReadings(readings map[string]devicedata.Reading) map[string]any {
	devices := make(map[string]any, len(readings))
	var newest time.Time
	for id, r := range readings {
		devices[id] = r.Attributes
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	if newest.IsZero() {
		newest = time.Now().UTC()
	}

	return map[string]any{
		"devices":   devices,
		"timestamp": float64(newest.Unix()),
	}
}

// CommandToBroker converts an agent control command to the broker
// command payload. The command is stamped with the current time unless
// the caller supplied a timestamp; all keys pass through.
func CommandToBroker(cmd map[string]any) map[string]any {
	out := make(map[string]any, len(cmd)+1)
	out["timestamp"] = float64(time.Now().Unix())
	for key, value := range cmd {
		out[key] = value
	}
	return out
}
