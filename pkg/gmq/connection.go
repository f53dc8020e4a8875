package gmq

// ConnHandler observes connection lifecycle events. Handlers must not
// block; the supervisor goroutine calls them synchronously on each
// transition.
type ConnHandler func(conn Connection, ev Event)

// Connection is the transport-agnostic contract satisfied by
// *amqp.Connection and *mqtt.Connection. It owns a single supervisor
// goroutine driving Closed/Connecting/Connected/Disconnected/Closing.
type Connection interface {
	// Connect is idempotent: it starts the supervisor goroutine if one
	// isn't already running and returns immediately.
	Connect() error
	// Close aborts the supervisor and closes the underlying session in
	// bounded time. It is safe to call more than once.
	Close() error
	Status() Status
	URI() string
	// AddHandler registers an observer and returns an id for RemoveHandler.
	AddHandler(h ConnHandler) int
	RemoveHandler(id int)
}
