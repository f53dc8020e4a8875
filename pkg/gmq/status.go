// Package gmq is the transport-agnostic facade over the AMQP-style and
// MQTT-style queue implementations in pkg/gmq/amqp and pkg/gmq/mqtt. It
// defines the shared state machine, message type, and queue-naming
// grammar; the actual supervisor goroutines live in the transport
// subpackages.
package gmq

// Status is the lifecycle state shared by transport connections and
// transport queues.
type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}
