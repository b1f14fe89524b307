// Package transport implements the network transport layer for the RUDP
// stack.
//
// This package handles endpoint primitives, NAT classification, datagram
// framing, and a UDP transport that hosts a bounded set of peer
// connections. A transport is driven entirely through callbacks: the
// connection manager registers a callback group at bootstrap time and all
// connection lifecycle, message, and NAT-detection events flow through it.
package transport
