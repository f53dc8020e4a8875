// Package gmqerr defines the sentinel errors shared by the transport and
// broker layers.
package gmqerr

import "errors"

var (
	// ErrQueueIsReceiver is returned by SendMsg on a recv-only queue.
	ErrQueueIsReceiver = errors.New("gmq: queue is a receiver")
	// ErrNotConnected is returned by SendMsg when the queue has no live channel.
	ErrNotConnected = errors.New("gmq: not connected")
	// ErrClosed names the closed state. No operation in pkg/gmq or its
	// transports returns it: SendMsg after Close reports ErrNotConnected.
	ErrClosed = errors.New("gmq: closed")
	// ErrUnsupportedScheme is returned by the connection pool for an unknown broker scheme.
	ErrUnsupportedScheme = errors.New("gmq: unsupported scheme")
	// ErrInvalidName is returned by NewQueue when the name fails the naming grammar.
	ErrInvalidName = errors.New("gmq: invalid queue name")
	// ErrZeroPrefetch is returned by NewQueue for a recv queue with prefetch 0.
	ErrZeroPrefetch = errors.New("gmq: recv queue requires prefetch >= 1")
	// ErrNoMsgHandler is returned by Connect on a recv queue with no message handler set.
	ErrNoMsgHandler = errors.New("gmq: recv queue has no message handler")
	// ErrEmptyUnit is returned by application manager construction when unit is empty.
	ErrEmptyUnit = errors.New("broker: application manager requires non-empty unit")
	// ErrAlreadyAcked is returned when ack/nack is called a second time on a message.
	ErrAlreadyAcked = errors.New("gmq: message already acked or nacked")
)
