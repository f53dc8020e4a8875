package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/cuemby/relaymq/pkg/gmq"
	"github.com/cuemby/relaymq/pkg/gmqerr"
	"github.com/cuemby/relaymq/pkg/log"
	"github.com/cuemby/relaymq/pkg/metrics"
)

// QueueOptions configures a Queue. Validation happens in NewQueue; see
// SPEC_FULL.md §4 for the invariants this enforces.
type QueueOptions struct {
	Name            string
	IsRecv          bool
	Reliable        bool
	Broadcast       bool
	Persistent      bool
	Prefetch        int
	ReconnectMillis int
}

func (o *QueueOptions) setDefaults() {
	if o.ReconnectMillis <= 0 {
		o.ReconnectMillis = 1000
	}
}

// Queue is the AMQP-style transport queue supervisor (§4.2).
type Queue struct {
	opts QueueOptions
	conn *Connection

	mu            sync.Mutex
	status        gmq.Status
	channel       *amqp091.Channel
	confirms      chan amqp091.Confirmation
	statusHandler gmq.StatusHandler
	msgHandler    gmq.MsgHandler
	started       bool
	stopCh        chan struct{}
	doneCh        chan struct{}

	// sendMu serializes SendMsg calls: amqp091's Channel is not safe for
	// concurrent publish, and two interleaved calls could each read the
	// other's NotifyPublish confirmation.
	sendMu sync.Mutex
}

// NewQueue validates opts and returns a Queue bound to conn. It does not
// connect; call Connect to start the supervisor.
func NewQueue(opts QueueOptions, conn *Connection) (*Queue, error) {
	opts.setDefaults()
	if !gmq.ValidName(opts.Name) {
		return nil, fmt.Errorf("%w: %q", gmqerr.ErrInvalidName, opts.Name)
	}
	if opts.IsRecv && opts.Prefetch < 1 {
		return nil, gmqerr.ErrZeroPrefetch
	}
	return &Queue{
		opts:   opts,
		conn:   conn,
		status: gmq.StatusClosed,
	}, nil
}

func (q *Queue) Name() string      { return q.opts.Name }
func (q *Queue) IsRecv() bool      { return q.opts.IsRecv }
func (q *Queue) Status() gmq.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

func (q *Queue) SetHandler(h gmq.StatusHandler) {
	q.mu.Lock()
	q.statusHandler = h
	q.mu.Unlock()
}

func (q *Queue) SetMsgHandler(h gmq.MsgHandler) {
	q.mu.Lock()
	q.msgHandler = h
	q.mu.Unlock()
}

func (q *Queue) Connect() error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	if q.opts.IsRecv && q.msgHandler == nil {
		q.mu.Unlock()
		return gmqerr.ErrNoMsgHandler
	}
	q.started = true
	q.status = gmq.StatusConnecting
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.runSupervisor()
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.started || q.status == gmq.StatusClosed || q.status == gmq.StatusClosing {
		q.mu.Unlock()
		return nil
	}
	q.status = gmq.StatusClosing
	stop, done := q.stopCh, q.doneCh
	q.mu.Unlock()

	close(stop)
	<-done

	q.setStatus(gmq.StatusClosed)
	return nil
}

// SendMsg publishes to a fanout exchange (broadcast) or directly to the
// queue name as routing key (unicast). Reliable sends block until the
// broker confirms persistence.
func (q *Queue) SendMsg(ctx context.Context, payload []byte) error {
	if q.opts.IsRecv {
		return gmqerr.ErrQueueIsReceiver
	}

	q.sendMu.Lock()
	defer q.sendMu.Unlock()

	q.mu.Lock()
	ch := q.channel
	confirms := q.confirms
	q.mu.Unlock()
	if ch == nil {
		return gmqerr.ErrNotConnected
	}

	exchange, routingKey := "", q.opts.Name
	if q.opts.Broadcast {
		exchange, routingKey = q.opts.Name, ""
	}

	deliveryMode := amqp091.Transient
	if q.opts.Persistent {
		deliveryMode = amqp091.Persistent
	}

	err := ch.PublishWithContext(ctx, exchange, routingKey, q.opts.Reliable, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", q.opts.Name, err)
	}

	if q.opts.Reliable {
		select {
		case conf, ok := <-confirms:
			if !ok || !conf.Ack {
				return fmt.Errorf("amqp publish %s: not confirmed", q.opts.Name)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	metrics.QueueMessagesTotal.WithLabelValues(q.opts.Name, "out").Inc()
	return nil
}

func (q *Queue) setStatus(s gmq.Status) {
	q.mu.Lock()
	q.status = s
	h := q.statusHandler
	q.mu.Unlock()
	metrics.QueueStatus.WithLabelValues(q.opts.Name).Set(float64(s))
	if h != nil {
		h(q, gmq.Event{Kind: gmq.EventStatus, Status: s})
	}
}

func (q *Queue) emitError(err error) {
	q.mu.Lock()
	h := q.statusHandler
	q.mu.Unlock()
	if h != nil {
		h(q, gmq.Event{Kind: gmq.EventError, Err: err})
	}
}

// runSupervisor implements the per-queue state machine of SPEC_FULL.md
// §5.2: wait for the connection, open a channel, declare topology,
// consume or stand ready to publish; on channel loss, retry.
func (q *Queue) runSupervisor() {
	defer close(q.doneCh)
	logger := log.WithQueue(q.opts.Name)

	for {
		select {
		case <-q.stopCh:
			q.teardown()
			return
		default:
		}

		if !q.waitForConnection() {
			q.teardown()
			return
		}

		raw := q.conn.Raw()
		if raw == nil {
			if q.sleepOrStop() {
				q.teardown()
				return
			}
			continue
		}

		ch, err := raw.Channel()
		if err != nil {
			q.emitError(fmt.Errorf("amqp channel %s: %w", q.opts.Name, err))
			logger.Warn().Err(err).Msg("channel open failed, retrying")
			if q.sleepOrStop() {
				q.teardown()
				return
			}
			continue
		}

		var confirms chan amqp091.Confirmation
		if q.opts.Reliable {
			if err := ch.Confirm(false); err != nil {
				q.emitError(fmt.Errorf("amqp confirm %s: %w", q.opts.Name, err))
				_ = ch.Close()
				if q.sleepOrStop() {
					q.teardown()
					return
				}
				continue
			}
			confirms = make(chan amqp091.Confirmation, 16)
			ch.NotifyPublish(confirms)
		}

		deliveries, err := q.declare(ch)
		if err != nil {
			q.emitError(fmt.Errorf("amqp declare %s: %w", q.opts.Name, err))
			logger.Warn().Err(err).Msg("declare failed, retrying")
			_ = ch.Close()
			if q.sleepOrStop() {
				q.teardown()
				return
			}
			continue
		}

		q.mu.Lock()
		q.channel = ch
		q.confirms = confirms
		q.mu.Unlock()
		q.setStatus(gmq.StatusConnected)
		logger.Info().Msg("connected")

		closeCh := ch.NotifyClose(make(chan *amqp091.Error, 1))
		lost := make(chan struct{})
		if deliveries != nil {
			go q.consumeLoop(deliveries, lost)
		}

		select {
		case <-closeCh:
			q.disconnect(ch)
		case <-lost:
			q.disconnect(ch)
		case <-q.stopCh:
			_ = ch.Close()
			q.teardown()
			return
		}

		if q.sleepOrStop() {
			q.teardown()
			return
		}
	}
}

func (q *Queue) disconnect(ch *amqp091.Channel) {
	_ = ch.Close()
	q.mu.Lock()
	q.channel = nil
	q.confirms = nil
	q.mu.Unlock()
	q.setStatus(gmq.StatusDisconnected)
}

// declare implements the topology table in SPEC_FULL.md §5.2.
func (q *Queue) declare(ch *amqp091.Channel) (<-chan amqp091.Delivery, error) {
	if q.opts.Broadcast {
		if err := ch.ExchangeDeclare(q.opts.Name, "fanout", true, false, false, false, nil); err != nil {
			return nil, err
		}
		if !q.opts.IsRecv {
			return nil, nil
		}
		dq, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return nil, err
		}
		if err := ch.QueueBind(dq.Name, "", q.opts.Name, false, nil); err != nil {
			return nil, err
		}
		if err := ch.Qos(q.opts.Prefetch, 0, false); err != nil {
			return nil, err
		}
		return ch.Consume(dq.Name, "", false, true, false, false, nil)
	}

	if !q.opts.IsRecv {
		return nil, nil
	}
	dq, err := ch.QueueDeclare(q.opts.Name, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(q.opts.Prefetch, 0, false); err != nil {
		return nil, err
	}
	return ch.Consume(dq.Name, "", false, false, false, false, nil)
}

func (q *Queue) consumeLoop(deliveries <-chan amqp091.Delivery, lost chan<- struct{}) {
	for d := range deliveries {
		q.mu.Lock()
		h := q.msgHandler
		q.mu.Unlock()
		if h == nil {
			_ = d.Nack(false, true)
			continue
		}
		msg := &message{delivery: d}
		metrics.QueueMessagesTotal.WithLabelValues(q.opts.Name, "in").Inc()
		if err := h(msg); err != nil {
			_ = msg.Nack()
			metrics.QueueNacksTotal.WithLabelValues(q.opts.Name).Inc()
		} else if !msg.settled {
			_ = msg.Ack()
		}
	}
	close(lost)
}

func (q *Queue) waitForConnection() bool {
	for {
		if q.conn.Status() == gmq.StatusConnected {
			return true
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-q.stopCh:
			return false
		}
	}
}

func (q *Queue) sleepOrStop() bool {
	select {
	case <-time.After(time.Duration(q.opts.ReconnectMillis) * time.Millisecond):
		return false
	case <-q.stopCh:
		return true
	}
}

func (q *Queue) teardown() {
	q.mu.Lock()
	ch := q.channel
	q.channel = nil
	q.confirms = nil
	q.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
}

// message adapts an amqp091.Delivery to gmq.Message. Ack/Nack are
// terminal: a second call returns gmqerr.ErrAlreadyAcked.
type message struct {
	delivery amqp091.Delivery
	mu       sync.Mutex
	settled  bool
}

func (m *message) Payload() []byte { return m.delivery.Body }

func (m *message) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return gmqerr.ErrAlreadyAcked
	}
	m.settled = true
	return m.delivery.Ack(false)
}

func (m *message) Nack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return gmqerr.ErrAlreadyAcked
	}
	m.settled = true
	return m.delivery.Nack(false, true)
}
