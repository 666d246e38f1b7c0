// Package transform maps between the broker wire shape of device traffic
// and the shape agents consume, and between agent query/command
// parameters and broker command payloads.
//
// All functions are pure and stateless: they never mutate their input
// and hold no configuration. Shapes are open maps because device
// attributes and command parameters are device-defined; unrecognized
// keys pass through unchanged.
package transform
