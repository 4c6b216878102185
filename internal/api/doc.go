// Package api implements the diagnostics HTTP API and WebSocket server of
// the power distribution module.
//
// This package provides:
//   - REST endpoints to inspect and write channels
//   - Output and bridge protection status, with fault clearing
//   - Safe-state inspection and reset
//   - Layout upload, schema and history
//   - The protection event log
//   - A WebSocket hub streaming channel changes and protection events
//
// # Security
//
// With security.jwt.secret set, every mutating route needs a bearer token
// whose role grants the route's permission (see package auth). Reads stay
// open. WebSocket connections use single-use tickets from
// POST /api/v1/auth/ws-ticket so tokens never appear in URLs. Without a
// secret every route is open, which suits a bench setup.
//
// # Graceful Degradation
//
// The event log, layout history and telemetry are optional. Routes that
// need a missing one answer 503; the rest keep working.
package api
