package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"

	"github.com/cuemby/relaymq/pkg/gmq"
	"github.com/cuemby/relaymq/pkg/gmqerr"
	"github.com/cuemby/relaymq/pkg/log"
	"github.com/cuemby/relaymq/pkg/metrics"
)

// QueueOptions configures a Queue.
type QueueOptions struct {
	Name     string
	IsRecv   bool
	Reliable bool // QoS 1 when true, QoS 0 otherwise
	// SharedPrefix is prepended to the subscribe topic only (§6 defaults).
	SharedPrefix    string
	ReconnectMillis int
}

func (o *QueueOptions) setDefaults() {
	if o.ReconnectMillis <= 0 {
		o.ReconnectMillis = 1000
	}
}

func (o *QueueOptions) qos() byte {
	if o.Reliable {
		return 1
	}
	return 0
}

func (o *QueueOptions) subscribeTopic() string {
	if o.SharedPrefix == "" {
		return o.Name
	}
	return o.SharedPrefix + o.Name
}

// Queue is the MQTT-style transport queue supervisor (§4.2): topic =
// queue name, broadcast vs. unicast is a subscription-prefix concern
// rather than a broker-topology concern (MQTT topics are inherently
// fan-out).
type Queue struct {
	opts QueueOptions
	conn *Connection

	mu            sync.Mutex
	status        gmq.Status
	statusHandler gmq.StatusHandler
	msgHandler    gmq.MsgHandler
	started       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	connLostCh    chan struct{}
}

// NewQueue validates opts and returns a Queue bound to conn.
func NewQueue(opts QueueOptions, conn *Connection) (*Queue, error) {
	opts.setDefaults()
	if !gmq.ValidName(opts.Name) {
		return nil, fmt.Errorf("%w: %q", gmqerr.ErrInvalidName, opts.Name)
	}
	return &Queue{
		opts:   opts,
		conn:   conn,
		status: gmq.StatusClosed,
	}, nil
}

func (q *Queue) Name() string       { return q.opts.Name }
func (q *Queue) IsRecv() bool       { return q.opts.IsRecv }
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

func (q *Queue) SendMsg(ctx context.Context, payload []byte) error {
	if q.opts.IsRecv {
		return gmqerr.ErrQueueIsReceiver
	}
	client := q.conn.Raw()
	if client == nil {
		return gmqerr.ErrNotConnected
	}
	token := client.Publish(q.opts.Name, q.opts.qos(), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return err
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

func (q *Queue) runSupervisor() {
	defer close(q.doneCh)
	logger := log.WithQueue(q.opts.Name)

	connHandlerID := q.conn.AddHandler(func(_ gmq.Connection, ev gmq.Event) {
		if ev.Kind == gmq.EventStatus && (ev.Status == gmq.StatusDisconnected || ev.Status == gmq.StatusClosed) {
			q.mu.Lock()
			lost := q.connLostCh
			q.mu.Unlock()
			if lost != nil {
				select {
				case lost <- struct{}{}:
				default:
				}
			}
		}
	})
	defer q.conn.RemoveHandler(connHandlerID)

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		if !q.waitForConnection() {
			return
		}

		client := q.conn.Raw()
		if client == nil {
			if q.sleepOrStop() {
				return
			}
			continue
		}

		if q.opts.IsRecv {
			if err := q.subscribe(client); err != nil {
				q.emitError(fmt.Errorf("mqtt subscribe %s: %w", q.opts.Name, err))
				logger.Warn().Err(err).Msg("subscribe failed, retrying")
				if q.sleepOrStop() {
					return
				}
				continue
			}
		}

		lost := make(chan struct{}, 1)
		q.mu.Lock()
		q.connLostCh = lost
		q.mu.Unlock()

		q.setStatus(gmq.StatusConnected)
		logger.Info().Msg("connected")

		select {
		case <-lost:
			q.setStatus(gmq.StatusDisconnected)
			logger.Warn().Msg("disconnected, will reconnect")
			if q.sleepOrStop() {
				return
			}
			q.setStatus(gmq.StatusConnecting)
		case <-q.stopCh:
			if client := q.conn.Raw(); client != nil && q.opts.IsRecv {
				client.Unsubscribe(q.opts.subscribeTopic())
			}
			return
		}
	}
}

func (q *Queue) subscribe(client mqttlib.Client) error {
	token := client.Subscribe(q.opts.subscribeTopic(), q.opts.qos(), func(_ mqttlib.Client, m mqttlib.Message) {
		q.mu.Lock()
		h := q.msgHandler
		q.mu.Unlock()
		if h == nil {
			return
		}
		msg := &message{inner: m, acked: !q.opts.Reliable}
		metrics.QueueMessagesTotal.WithLabelValues(q.opts.Name, "in").Inc()
		if err := h(msg); err != nil {
			_ = msg.Nack()
			metrics.QueueNacksTotal.WithLabelValues(q.opts.Name).Inc()
		} else {
			_ = msg.Ack()
		}
	})
	token.Wait()
	return token.Error()
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

// message adapts a paho mqtt.Message to gmq.Message. At QoS 0 there is
// nothing to acknowledge at the protocol level: the message starts out
// settled, so Ack and Nack return gmqerr.ErrAlreadyAcked without touching
// the broker. At QoS 1, Nack deliberately withholds the broker ack so the message is
// redelivered after reconnect (§4.2 reliability notes).
type message struct {
	inner mqttlib.Message
	mu    sync.Mutex
	acked bool
}

func (m *message) Payload() []byte { return m.inner.Payload() }

func (m *message) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acked {
		return gmqerr.ErrAlreadyAcked
	}
	m.acked = true
	m.inner.Ack()
	return nil
}

func (m *message) Nack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acked {
		return gmqerr.ErrAlreadyAcked
	}
	m.acked = true
	return nil
}
