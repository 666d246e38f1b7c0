// Package api provides the HTTP REST API and WebSocket server for
// Agentlink Core.
//
// It exposes agent registration, messaging, subscription management,
// device data queries and device control to AI agents, plus a WebSocket
// transport for live delivery of routed envelopes.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
