// Package auth issues and validates agent access tokens, enforces
// agent-type permissions, and records security events.
//
// Tokens are HS256-signed JWTs carrying the agent's ID and type.
// Permissions are static rules keyed by agent type: control agents may
// command devices, monitoring and analytics agents may read device
// data, everything else is denied. Security events (token issuance,
// denied actions) are kept in a bounded SQLite log.
package auth
