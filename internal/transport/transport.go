// SPDX-License-Identifier: MIT
// Package transport carries live spectrum frames out of the process:
// a websocket broadcaster (with the prometheus endpoint on the same
// server), a logging sink, and a UDP publisher in the udp subpackage.
package transport

import "errors"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport defines a generic interface for sending processed data or events.
// Implementations must be thread-safe and Send must not block the caller.
type Transport interface {
	Send(data any) error
	Close() error
}
