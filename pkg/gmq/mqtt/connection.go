// Package mqtt implements the MQTT-style transport connection and queue
// supervisors backed by github.com/eclipse/paho.mqtt.golang.
package mqtt

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"

	"github.com/cuemby/relaymq/pkg/gmq"
	"github.com/cuemby/relaymq/pkg/log"
	"github.com/cuemby/relaymq/pkg/metrics"
)

const connScheme = "mqtt"

// Options configures a Connection. Zero values take the defaults noted below.
type Options struct {
	URI      string
	ClientID string // generated via gmq.DefaultClientID if empty
	Username string
	Password string
	// CleanSession controls whether the broker discards subscription
	// state across reconnects.
	CleanSession bool
	// ConnectTimeout bounds each connect attempt. Default 3000ms.
	ConnectTimeout time.Duration
	// ReconnectMillis is the sleep after a failed connect or a disconnect. Default 1000ms.
	ReconnectMillis int
	TLSConfig       *tls.Config
}

func (o *Options) setDefaults() error {
	if o.ClientID == "" {
		o.ClientID = gmq.DefaultClientID()
	} else if !gmq.ValidClientID(o.ClientID) {
		return fmt.Errorf("mqtt: invalid client id %q", o.ClientID)
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 3000 * time.Millisecond
	}
	if o.ReconnectMillis <= 0 {
		o.ReconnectMillis = 1000
	}
	return nil
}

// Connection is the MQTT-style transport connection supervisor (§4.1).
// paho's own network loop is used for I/O, but reconnection is driven by
// this package's supervisor so that status transitions match the AMQP
// transport exactly.
type Connection struct {
	opts Options

	mu       sync.Mutex
	status   gmq.Status
	client   mqttlib.Client
	handlers map[int]gmq.ConnHandler
	nextID   int
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lostCh   chan struct{}
}

// NewConnection validates opts and returns a Connection in the Closed state.
func NewConnection(opts Options) (*Connection, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	return &Connection{
		opts:     opts,
		status:   gmq.StatusClosed,
		handlers: make(map[int]gmq.ConnHandler),
	}, nil
}

func (c *Connection) URI() string { return c.opts.URI }

func (c *Connection) Status() gmq.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

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

// Raw returns the live paho client, or nil if not Connected.
func (c *Connection) Raw() mqttlib.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != gmq.StatusConnected {
		return nil
	}
	return c.client
}

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

func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.started || c.status == gmq.StatusClosed || c.status == gmq.StatusClosing {
		c.mu.Unlock()
		return nil
	}
	c.status = gmq.StatusClosing
	stop, done := c.stopCh, c.doneCh
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

func (c *Connection) newClientOptions() *mqttlib.ClientOptions {
	o := mqttlib.NewClientOptions()
	o.AddBroker(c.opts.URI)
	o.SetClientID(c.opts.ClientID)
	o.SetCleanSession(c.opts.CleanSession)
	o.SetAutoReconnect(false)
	o.SetAutoAckDisabled(true)
	o.SetConnectTimeout(c.opts.ConnectTimeout)
	if c.opts.Username != "" {
		o.SetUsername(c.opts.Username)
		o.SetPassword(c.opts.Password)
	}
	if c.opts.TLSConfig != nil {
		o.SetTLSConfig(c.opts.TLSConfig)
	}
	o.SetConnectionLostHandler(func(_ mqttlib.Client, err error) {
		c.emitError(fmt.Errorf("mqtt connection lost: %w", err))
		c.mu.Lock()
		lost := c.lostCh
		c.mu.Unlock()
		if lost != nil {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})
	return o
}

// runSupervisor implements SPEC_FULL.md §5.1 for the MQTT transport:
// connect, wait for loss, reconnect after a fixed interval.
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

		lost := make(chan struct{}, 1)
		c.mu.Lock()
		c.lostCh = lost
		c.mu.Unlock()

		client := mqttlib.NewClient(c.newClientOptions())
		token := client.Connect()
		if !token.WaitTimeout(c.opts.ConnectTimeout) || token.Error() != nil {
			err := token.Error()
			if err == nil {
				err = fmt.Errorf("mqtt connect timed out")
			}
			c.emitError(fmt.Errorf("mqtt connect %s: %w", c.opts.URI, err))
			logger.Warn().Err(err).Msg("connect failed, retrying")
			if c.sleepOrStop() {
				c.teardown()
				return
			}
			continue
		}

		c.mu.Lock()
		c.client = client
		c.mu.Unlock()
		c.setStatus(gmq.StatusConnected)
		logger.Info().Msg("connected")

		select {
		case <-lost:
			c.mu.Lock()
			c.client = nil
			c.mu.Unlock()
			client.Disconnect(250)
			c.setStatus(gmq.StatusDisconnected)
			logger.Warn().Msg("disconnected, will reconnect")
			if c.sleepOrStop() {
				c.teardown()
				return
			}
			c.setStatus(gmq.StatusConnecting)
		case <-c.stopCh:
			client.Disconnect(250)
			c.mu.Lock()
			c.client = nil
			c.mu.Unlock()
			c.teardown()
			return
		}
	}
}

func (c *Connection) teardown() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

func (c *Connection) sleepOrStop() bool {
	select {
	case <-time.After(time.Duration(c.opts.ReconnectMillis) * time.Millisecond):
		return false
	case <-c.stopCh:
		return true
	}
}
