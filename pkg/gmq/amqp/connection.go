// Package amqp implements the AMQP-style transport connection and queue
// supervisors backed by github.com/rabbitmq/amqp091-go.
package amqp

import (
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/cuemby/relaymq/pkg/gmq"
	"github.com/cuemby/relaymq/pkg/log"
	"github.com/cuemby/relaymq/pkg/metrics"
)

const connScheme = "amqp"

// Options configures a Connection. Zero values take the defaults noted below.
type Options struct {
	// URI is a full amqp://[user[:pass]@]host[:port] or amqps:// URI.
	URI string
	// ConnectTimeout bounds each dial attempt. Default 3000ms.
	ConnectTimeout time.Duration
	// ReconnectMillis is the sleep between failed connect attempts and
	// after a disconnect. Default 1000ms.
	ReconnectMillis int
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 3000 * time.Millisecond
	}
	if o.ReconnectMillis <= 0 {
		o.ReconnectMillis = 1000
	}
}

// Connection is the AMQP-style transport connection supervisor (§4.1).
// One goroutine drives Closed/Connecting/Connected/Disconnected/Closing;
// amqp.Queue reads the live *amqp091.Connection handle via Raw to open
// its own channel.
type Connection struct {
	opts Options

	mu       sync.Mutex
	status   gmq.Status
	raw      *amqp091.Connection
	handlers map[int]gmq.ConnHandler
	nextID   int
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewConnection constructs a Connection in the Closed state. Call
// Connect to start its supervisor.
func NewConnection(opts Options) *Connection {
	opts.setDefaults()
	return &Connection{
		opts:     opts,
		status:   gmq.StatusClosed,
		handlers: make(map[int]gmq.ConnHandler),
	}
}

func (c *Connection) URI() string { return c.opts.URI }

func (c *Connection) Status() gmq.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AddHandler registers an observer and returns an id for RemoveHandler.
func (c *Connection) AddHandler(h gmq.ConnHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = h
	return id
}

func (c *Connection) RemoveHandler(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

// Raw returns the live connection handle, or nil if not Connected.
func (c *Connection) Raw() *amqp091.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != gmq.StatusConnected {
		return nil
	}
	return c.raw
}

// Connect is idempotent: it starts the supervisor goroutine once.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.status = gmq.StatusConnecting
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.runSupervisor()
	return nil
}

// Close aborts the supervisor and closes the underlying session in
// bounded time. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	if c.status == gmq.StatusClosed || c.status == gmq.StatusClosing {
		c.mu.Unlock()
		return nil
	}
	c.status = gmq.StatusClosing
	stop := c.stopCh
	done := c.doneCh
	c.mu.Unlock()

	close(stop)
	<-done

	c.mu.Lock()
	c.status = gmq.StatusClosed
	c.mu.Unlock()
	metrics.ConnectionStatus.WithLabelValues(connScheme, c.opts.URI).Set(float64(gmq.StatusClosed))
	c.emit(gmq.Event{Kind: gmq.EventStatus, Status: gmq.StatusClosed})
	return nil
}

func (c *Connection) setStatus(s gmq.Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	metrics.ConnectionStatus.WithLabelValues(connScheme, c.opts.URI).Set(float64(s))
	c.emit(gmq.Event{Kind: gmq.EventStatus, Status: s})
}

func (c *Connection) emitError(err error) {
	c.emit(gmq.Event{Kind: gmq.EventError, Err: err})
}

func (c *Connection) emit(ev gmq.Event) {
	c.mu.Lock()
	hs := make([]gmq.ConnHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(c, ev)
	}
}

// runSupervisor is the algorithm in SPEC_FULL.md §5.1: dial, observe
// NotifyClose, reconnect with a fixed interval on failure.
func (c *Connection) runSupervisor() {
	defer close(c.doneCh)
	logger := log.WithConnection(c.opts.URI)

	first := true
	for {
		select {
		case <-c.stopCh:
			c.teardown()
			return
		default:
		}

		if !first {
			metrics.ConnectionReconnectsTotal.WithLabelValues(connScheme).Inc()
		}
		first = false

		conn, err := amqp091.DialConfig(c.opts.URI, amqp091.Config{
			Dial: amqp091.DefaultDial(c.opts.ConnectTimeout),
		})
		if err != nil {
			c.emitError(fmt.Errorf("amqp dial %s: %w", c.opts.URI, err))
			logger.Warn().Err(err).Msg("dial failed, retrying")
			if c.sleepOrStop() {
				c.teardown()
				return
			}
			continue
		}

		c.mu.Lock()
		c.raw = conn
		c.mu.Unlock()
		c.setStatus(gmq.StatusConnected)
		logger.Info().Msg("connected")

		closeCh := conn.NotifyClose(make(chan *amqp091.Error, 1))
		select {
		case err := <-closeCh:
			if err != nil {
				c.emitError(fmt.Errorf("amqp connection closed: %w", err))
			}
			c.mu.Lock()
			c.raw = nil
			c.mu.Unlock()
			c.setStatus(gmq.StatusDisconnected)
			logger.Warn().Msg("disconnected, will reconnect")
			if c.sleepOrStop() {
				c.teardown()
				return
			}
			c.setStatus(gmq.StatusConnecting)
		case <-c.stopCh:
			_ = conn.Close()
			c.mu.Lock()
			c.raw = nil
			c.mu.Unlock()
			c.teardown()
			return
		}
	}
}

func (c *Connection) teardown() {
	c.mu.Lock()
	raw := c.raw
	c.raw = nil
	c.mu.Unlock()
	if raw != nil {
		_ = raw.Close()
	}
}

// sleepOrStop sleeps for the reconnect interval, returning true if stop
// was signaled during the sleep.
func (c *Connection) sleepOrStop() bool {
	select {
	case <-time.After(time.Duration(c.opts.ReconnectMillis) * time.Millisecond):
		return false
	case <-c.stopCh:
		return true
	}
}
