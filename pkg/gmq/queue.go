package gmq

import "context"

// StatusHandler observes queue lifecycle events, mirroring ConnHandler
// but scoped to one queue.
type StatusHandler func(q Queue, ev Event)

// Queue is the unified facade over the AMQP-style and MQTT-style
// transport queues (§4.3): identical semantics for send, consume,
// ack/nack and status regardless of which transport backs it. Managers
// in pkg/broker/mq hold values of this interface type and never import
// pkg/gmq/amqp or pkg/gmq/mqtt directly — the caller that constructs the
// concrete queue (pkg/broker/mq's queue builder) is the only place that
// branches on transport.
type Queue interface {
	// Connect is idempotent and starts the per-queue supervisor.
	Connect() error
	// Close tears down the consumer/publisher and releases any
	// broker-side resources this queue declared.
	Close() error
	Status() Status
	Name() string
	IsRecv() bool
	// SendMsg is valid only on send queues with a live channel; it
	// returns gmqerr.ErrQueueIsReceiver or gmqerr.ErrNotConnected
	// otherwise. Reliable queues block until the broker has
	// acknowledged persistence.
	SendMsg(ctx context.Context, payload []byte) error
	// SetHandler installs the connection-event observer. Required before Connect.
	SetHandler(h StatusHandler)
	// SetMsgHandler installs the message handler. Required on recv
	// queues before Connect.
	SetMsgHandler(h MsgHandler)
}
