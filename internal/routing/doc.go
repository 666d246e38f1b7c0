// Package routing implements the message routing engine of Agentlink Core.
//
// This package manages:
//   - Topic pattern matching with MQTT-style wildcards (+ and #)
//   - The subscription registry (agent ↔ pattern, with wildcard fan-out)
//   - Durable delivery queues for agent messages and device data
//   - The Router drain loops and per-recipient bounded delivery history
//
// # Architecture
//
// The Router owns its SubscriptionRegistry and both DeliveryQueues; there is
// no ambient global state. Producers (device intake callbacks, the agent API)
// enqueue concurrently; a single drain goroutine per queue pops envelopes,
// resolves recipients, appends to each recipient's history, and pushes to any
// live listener. History is the durability fallback: a recipient that is
// offline at delivery time reads its history after reconnecting.
//
// # Ordering
//
// Within one queue, envelopes sharing a recipient are delivered to that
// recipient's history in enqueue order. The agent-message queue and the
// device-data queue are independent FIFOs drained by independent loops, so
// relative ordering between an agent message and a device-data notification
// destined for the same agent is unspecified. This relaxation is intentional
// and matches the separate physical queues.
//
// # Durability
//
// Enqueue commits a SQLite row before returning; envelopes that were never
// drained survive a restart and are replayed. An envelope is removed from the
// queue when it is popped, so delivery is at-least-once up to that point and
// best-effort afterwards (the history append is the delivery).
package routing
