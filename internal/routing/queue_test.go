package routing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testEnvelope(id string) Envelope {
	return Envelope{
		ID:            id,
		Kind:          KindAgentMessage,
		SourceAgentID: "control-1",
		TargetAgentID: "monitor-1",
		MessageType:   "status_update",
		Payload:       map[string]any{"seq": id},
		Timestamp:     time.Now().UTC(),
	}
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewDeliveryQueue(setupTestDB(t), QueueAgentMessages)

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, testEnvelope(fmt.Sprintf("env-%d", i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		env, _, err := q.Dequeue(ctx, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if env == nil {
			t.Fatalf("dequeue %d: empty queue", i)
		}
		if want := fmt.Sprintf("env-%d", i); env.ID != want {
			t.Errorf("dequeue %d: got %s, want %s", i, env.ID, want)
		}
	}
}

func TestQueueEmptyDequeueTimesOut(t *testing.T) {
	ctx := context.Background()
	q := NewDeliveryQueue(setupTestDB(t), QueueAgentMessages)

	start := time.Now()
	env, _, err := q.Dequeue(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if env != nil {
		t.Fatalf("dequeue on empty queue returned %v", env)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("dequeue returned after %v, expected to wait near 50ms", elapsed)
	}
}

func TestQueueDequeueWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewDeliveryQueue(setupTestDB(t), QueueAgentMessages)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, testEnvelope("late"))
	}()

	env, _, err := q.Dequeue(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if env == nil || env.ID != "late" {
		t.Fatalf("dequeue = %v, want envelope late", env)
	}
}

func TestQueueDequeueCancellation(t *testing.T) {
	q := NewDeliveryQueue(setupTestDB(t), QueueAgentMessages)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := q.Dequeue(ctx, 5*time.Second)
	if err == nil {
		t.Fatal("dequeue after cancel returned nil error")
	}
}

func TestQueueConcurrentEnqueueNoLoss(t *testing.T) {
	ctx := context.Background()
	q := NewDeliveryQueue(setupTestDB(t), QueueDeviceData)

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				env := testEnvelope(fmt.Sprintf("p%d-%d", p, i))
				if err := q.Enqueue(ctx, env); err != nil {
					t.Errorf("enqueue p%d-%d: %v", p, i, err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != producers*perProducer {
		t.Fatalf("queue holds %d envelopes, want %d", n, producers*perProducer)
	}

	seen := make(map[string]bool)
	for i := 0; i < producers*perProducer; i++ {
		env, _, err := q.Dequeue(ctx, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if env == nil {
			t.Fatalf("queue empty after %d envelopes", i)
		}
		if seen[env.ID] {
			t.Fatalf("envelope %s dequeued twice", env.ID)
		}
		seen[env.ID] = true
	}
}

func TestQueueSeparateNames(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	agents := NewDeliveryQueue(db, QueueAgentMessages)
	devices := NewDeliveryQueue(db, QueueDeviceData)

	if err := agents.Enqueue(ctx, testEnvelope("a1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	env, _, err := devices.Dequeue(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if env != nil {
		t.Fatalf("device queue returned agent envelope %s", env.ID)
	}

	env, _, err = agents.Dequeue(ctx, 10*time.Millisecond)
	if err != nil || env == nil || env.ID != "a1" {
		t.Fatalf("agent queue dequeue = %v, %v", env, err)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	q := NewDeliveryQueue(db, QueueAgentMessages)
	if err := q.Enqueue(ctx, testEnvelope("persisted")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// A fresh queue over the same database sees the pending envelope.
	q2 := NewDeliveryQueue(db, QueueAgentMessages)
	env, _, err := q2.Dequeue(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if env == nil || env.ID != "persisted" {
		t.Fatalf("dequeue = %v, want persisted envelope", env)
	}
}
