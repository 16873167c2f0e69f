// Package session runs one typed request/response connection to the game peer.
//
// Ownership boundary:
// - connection engine (single goroutine owns the stream, heartbeat, close priority)
// - typed routes (request kind, expected response kind, JSON bodies)
// - listener/dialer with optional TLS and connect backoff
//
// Wire framing lives in internal/protocol/frame.
package session
