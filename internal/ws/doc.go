// Package ws provides the WebSocket transport for the comment gateway.
//
// The package implements:
//   - Hub: Tracks live connections by connection id and is the per-connection
//     delivery channel used by the broadcast fan-out
//   - Handler: Upgrades requests, runs the read/write pumps and forwards
//     lifecycle events to the gateway dispatcher
//   - Service: Wires the hub, broadcaster and dispatcher together
//
// Key features:
//   - A connection is reachable through the hub before it is saved to the registry
//   - Per-connection inbound rate limiting answered with a rate_limited error
//   - Each outbound envelope is written in its own frame
//   - Gone detection: sending to an unknown or closed connection reports it as gone
package ws
