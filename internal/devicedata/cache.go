package devicedata

import (
	"sync"
	"time"
)

// Reading is one device's most recent data point.
type Reading struct {
	DeviceType string         `json:"device_type"`
	DeviceID   string         `json:"device_id"`
	Attributes map[string]any `json:"attributes"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Filter narrows a Query. Zero-valued fields are inactive; active fields
// combine with AND.
type Filter struct {
	// MaxAge excludes readings whose timestamp is older than now-MaxAge.
	MaxAge time.Duration

	// Location keeps only readings whose "location" attribute equals it.
	Location string

	// DeviceID keeps only the reading from one device.
	DeviceID string
}

// Cache holds the latest reading per (device type, device ID). All
// methods are safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	byType   map[string]map[string]Reading
	lastSeen time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		byType: make(map[string]map[string]Reading),
	}
}

// Update stores a reading, replacing any previous reading from the same
// device. A zero timestamp is stamped with the current time.
func (c *Cache) Update(deviceType, deviceID string, attributes map[string]any, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byType[deviceType] == nil {
		c.byType[deviceType] = make(map[string]Reading)
	}
	c.byType[deviceType][deviceID] = Reading{
		DeviceType: deviceType,
		DeviceID:   deviceID,
		Attributes: attributes,
		Timestamp:  ts,
	}
	if ts.After(c.lastSeen) {
		c.lastSeen = ts
	}
}

// Query returns the readings of one device type that pass the filter,
// keyed by device ID. An unknown device type returns an empty map, not
// an error.
func (c *Cache) Query(deviceType string, filter Filter) map[string]Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]Reading)
	readings, ok := c.byType[deviceType]
	if !ok {
		return result
	}

	now := time.Now().UTC()
	for id, r := range readings {
		if filter.DeviceID != "" && id != filter.DeviceID {
			continue
		}
		if filter.MaxAge > 0 && now.Sub(r.Timestamp) > filter.MaxAge {
			continue
		}
		if filter.Location != "" {
			loc, _ := r.Attributes["location"].(string)
			if loc != filter.Location {
				continue
			}
		}
		result[id] = r
	}
	return result
}

// Get returns one device's latest reading.
func (c *Cache) Get(deviceType, deviceID string) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.byType[deviceType][deviceID]
	return r, ok
}

// Types returns the device types currently present, in no particular order.
func (c *Cache) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.byType))
	for t := range c.byType {
		types = append(types, t)
	}
	return types
}

// Len returns the total number of cached readings.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, readings := range c.byType {
		n += len(readings)
	}
	return n
}

// LastSeen returns the newest timestamp the cache has observed. Zero if
// no reading has arrived yet.
func (c *Cache) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}
