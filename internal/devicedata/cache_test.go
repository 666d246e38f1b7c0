package devicedata

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCacheUpdateReplacesLatest(t *testing.T) {
	c := NewCache()

	c.Update("sensor", "temp1", map[string]any{"temperature": 20.0}, time.Now().UTC())
	c.Update("sensor", "temp1", map[string]any{"temperature": 22.5}, time.Now().UTC())

	r, ok := c.Get("sensor", "temp1")
	if !ok {
		t.Fatal("reading missing after update")
	}
	if r.Attributes["temperature"] != 22.5 {
		t.Errorf("temperature = %v, want 22.5", r.Attributes["temperature"])
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheQueryUnknownType(t *testing.T) {
	c := NewCache()
	c.Update("sensor", "temp1", map[string]any{"temperature": 20.0}, time.Now().UTC())

	result := c.Query("actuator", Filter{})
	if result == nil {
		t.Fatal("Query returned nil, want empty map")
	}
	if len(result) != 0 {
		t.Errorf("Query of unknown type returned %d readings", len(result))
	}
}

func TestCacheQueryMaxAge(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	// One reading just inside the window, one just outside.
	c.Update("sensor", "fresh", map[string]any{"temperature": 21.0}, now.Add(-59*time.Second))
	c.Update("sensor", "stale", map[string]any{"temperature": 19.0}, now.Add(-61*time.Second))

	result := c.Query("sensor", Filter{MaxAge: 60 * time.Second})
	if _, ok := result["fresh"]; !ok {
		t.Error("reading 59s old excluded by 60s window")
	}
	if _, ok := result["stale"]; ok {
		t.Error("reading 61s old included by 60s window")
	}
}

func TestCacheQueryLocation(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	c.Update("sensor", "temp1", map[string]any{"temperature": 21.0, "location": "greenhouse"}, now)
	c.Update("sensor", "temp2", map[string]any{"temperature": 18.0, "location": "warehouse"}, now)
	c.Update("sensor", "temp3", map[string]any{"temperature": 17.0}, now)

	result := c.Query("sensor", Filter{Location: "greenhouse"})
	if len(result) != 1 {
		t.Fatalf("got %d readings, want 1", len(result))
	}
	if _, ok := result["temp1"]; !ok {
		t.Error("greenhouse reading missing")
	}
}

func TestCacheQueryFiltersCombine(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	c.Update("sensor", "temp1", map[string]any{"location": "greenhouse"}, now)
	c.Update("sensor", "temp2", map[string]any{"location": "greenhouse"}, now.Add(-2*time.Minute))
	c.Update("sensor", "temp3", map[string]any{"location": "warehouse"}, now)

	// All three filters active: only temp1 satisfies every one.
	result := c.Query("sensor", Filter{
		MaxAge:   time.Minute,
		Location: "greenhouse",
		DeviceID: "temp1",
	})
	if len(result) != 1 {
		t.Fatalf("got %d readings, want 1", len(result))
	}
	if _, ok := result["temp1"]; !ok {
		t.Error("temp1 missing from combined filter result")
	}

	// Same filters but a device that fails the location test.
	result = c.Query("sensor", Filter{MaxAge: time.Minute, Location: "greenhouse", DeviceID: "temp3"})
	if len(result) != 0 {
		t.Errorf("got %d readings, want 0", len(result))
	}
}

func TestCacheTypesIsolated(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	c.Update("sensor", "shared-id", map[string]any{"kind": "sensor"}, now)
	c.Update("actuator", "shared-id", map[string]any{"kind": "actuator"}, now)

	r, ok := c.Get("sensor", "shared-id")
	if !ok || r.Attributes["kind"] != "sensor" {
		t.Errorf("sensor reading = %+v", r)
	}
	r, ok = c.Get("actuator", "shared-id")
	if !ok || r.Attributes["kind"] != "actuator" {
		t.Errorf("actuator reading = %+v", r)
	}
	if got := len(c.Types()); got != 2 {
		t.Errorf("Types count = %d, want 2", got)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("dev-%d", i)
				c.Update("sensor", id, map[string]any{"n": j}, time.Now().UTC())
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Query("sensor", Filter{MaxAge: time.Minute})
			}
		}()
	}
	wg.Wait()

	if c.Len() != 10 {
		t.Errorf("Len = %d, want 10", c.Len())
	}
}

func TestCacheLastSeen(t *testing.T) {
	c := NewCache()
	if !c.LastSeen().IsZero() {
		t.Error("LastSeen should be zero for an empty cache")
	}

	older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	c.Update("sensor", "dev-1", map[string]any{"n": 1}, newer)
	c.Update("sensor", "dev-2", map[string]any{"n": 2}, older)

	if got := c.LastSeen(); !got.Equal(newer) {
		t.Errorf("LastSeen = %v, want %v", got, newer)
	}
}
