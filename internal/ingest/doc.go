// Package ingest consumes device traffic from the MQTT broker and feeds
// it into the core: each reading updates the latest-value cache, is
// handed to the router for subscriber fan-out, and is optionally
// archived to InfluxDB.
//
// Broker payloads are decoded inside the subscription callback; a
// malformed payload is dropped and logged, never surfaced to a caller,
// because there is no caller to surface it to.
package ingest
