// Package influxdb provides an optional time-series archive of device readings.
//
// The in-memory device data cache keeps only the latest reading per device;
// when InfluxDB is enabled every consumed reading is also written here, so
// historical series remain queryable by external analytics tooling without
// widening the cache's contract.
//
// Writes are non-blocking and batched. Write failures are reported through
// an error callback and never affect message routing.
package influxdb
