package gmq

// Message is an inbound delivery from a recv queue. Ack or Nack is the
// terminal operation: after either has been called once, subsequent
// calls return gmqerr.ErrAlreadyAcked and have no effect on the broker.
type Message interface {
	Payload() []byte
	Ack() error
	Nack() error
}

// MsgHandler processes one inbound message. Returning nil acks the
// delivery; returning an error nacks it (the broker redelivers per its
// own policy). MsgHandler must be set before Connect on a recv queue.
type MsgHandler func(msg Message) error
