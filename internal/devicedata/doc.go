// Package devicedata caches the most recent reading from each device.
//
// The cache holds exactly one Reading per (device type, device ID) pair;
// a newer reading replaces the older one. Queries filter a device type's
// readings by age, location and device ID. The cache is an in-memory
// view for request/response queries; durable fan-out of readings is the
// routing package's job, and long-term archival is InfluxDB's.
package devicedata
