// Package server is the network surface of groupchat: a WebSocket endpoint
// speaking a typed request/event protocol, a small read-only HTTP API, and
// the hub that owns live connections.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, request dispatch, routing, and HTTP handlers.
package server
