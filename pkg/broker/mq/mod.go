// Package mq builds and manages the fixed set of logical queues owned by
// an application or network manager, and the connection pool shared
// across them, grounded on sylvia-iot-sdk/src/mq/mod.rs.
package mq

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/relaymq/pkg/gmq"
	"github.com/cuemby/relaymq/pkg/gmq/amqp"
	"github.com/cuemby/relaymq/pkg/gmq/mqtt"
	"github.com/cuemby/relaymq/pkg/gmqerr"
)

// MgrStatus is the aggregate readiness of a manager's owned queues.
type MgrStatus int

const (
	StatusNotReady MgrStatus = iota
	StatusReady
)

func (s MgrStatus) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "not_ready"
}

// Options configures one application/network manager's queue set.
type Options struct {
	UnitID          string
	UnitCode        string
	ID              string
	Name            string
	Prefetch        int
	Persistent      bool
	SharedPrefix    string
	ConnectTimeout  time.Duration
	ReconnectMillis int
}

const (
	defPrefetch   = 100
	defPersistent = false
)

func (o *Options) prefetch() int {
	if o.Prefetch <= 0 {
		return defPrefetch
	}
	return o.Prefetch
}

func (o *Options) unit() string {
	if o.UnitCode == "" {
		return "_"
	}
	return o.UnitCode
}

// MqStatus reports the live status of each queue a manager owns;
// dldataResp/ctrl report gmq.StatusClosed for managers that don't own one.
type MqStatus struct {
	Uldata       gmq.Status
	Dldata       gmq.Status
	DldataResp   gmq.Status
	DldataResult gmq.Status
	Ctrl         gmq.Status
}

// poolEntry is one shared connection plus the refcount of queues bound to
// it (§4.5).
type poolEntry struct {
	conn   gmq.Connection
	scheme string
	refs   int
}

// Pool is the process-wide map from broker URI to shared connection.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
}

// NewPool returns an empty connection pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]*poolEntry)}
}

// acquire returns the connection for uri, creating and connecting one if
// absent, and adds n to its refcount.
func (p *Pool) acquire(uri string, n int) (gmq.Connection, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[uri]; ok {
		e.refs += n
		return e.conn, e.scheme, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, "", fmt.Errorf("mq: parse uri %q: %w", uri, err)
	}

	var (
		conn   gmq.Connection
		scheme = parsed.Scheme
	)
	switch scheme {
	case "amqp", "amqps":
		c := amqp.NewConnection(amqp.Options{URI: uri})
		if err := c.Connect(); err != nil {
			return nil, "", err
		}
		conn = c
	case "mqtt", "mqtts":
		c, err := mqtt.NewConnection(mqtt.Options{URI: uri})
		if err != nil {
			return nil, "", err
		}
		if err := c.Connect(); err != nil {
			return nil, "", err
		}
		conn = c
	default:
		return nil, "", fmt.Errorf("%w: %q", gmqerr.ErrUnsupportedScheme, scheme)
	}

	p.entries[uri] = &poolEntry{conn: conn, scheme: scheme, refs: n}
	return conn, scheme, nil
}

// release subtracts n from the refcount of uri's entry; at zero the
// connection is closed and removed.
func (p *Pool) release(uri string, n int) error {
	p.mu.Lock()
	e, ok := p.entries[uri]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	e.refs -= n
	if e.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, uri)
	p.mu.Unlock()

	return e.conn.Close()
}

// Refs returns the live refcount for uri, or 0 if absent. Exposed for
// tests verifying pool-sharing behavior (§8 scenario 5).
func (p *Pool) Refs(uri string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[uri]; ok {
		return e.refs
	}
	return 0
}

// Size returns the number of distinct connection entries in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// newQueue builds one transport queue of the given name/direction/kind on
// scheme, bound to conn.
func newQueue(conn gmq.Connection, scheme, name string, isRecv, broadcast bool, opts *Options) (gmq.Queue, error) {
	switch scheme {
	case "amqp", "amqps":
		ac, ok := conn.(*amqp.Connection)
		if !ok {
			return nil, fmt.Errorf("mq: connection is not an amqp connection")
		}
		return amqp.NewQueue(amqp.QueueOptions{
			Name:            name,
			IsRecv:          isRecv,
			Reliable:        true,
			Broadcast:       broadcast,
			Persistent:      opts.Persistent,
			Prefetch:        opts.prefetch(),
			ReconnectMillis: opts.ReconnectMillis,
		}, ac)
	case "mqtt", "mqtts":
		mc, ok := conn.(*mqtt.Connection)
		if !ok {
			return nil, fmt.Errorf("mq: connection is not an mqtt connection")
		}
		return mqtt.NewQueue(mqtt.QueueOptions{
			Name:            name,
			IsRecv:          isRecv,
			Reliable:        true,
			SharedPrefix:    opts.SharedPrefix,
			ReconnectMillis: opts.ReconnectMillis,
		}, mc)
	default:
		return nil, fmt.Errorf("%w: %q", gmqerr.ErrUnsupportedScheme, scheme)
	}
}

// dataQueues builds the uldata/dldata/dldata-resp/dldata-result queues for
// prefix, from the broker's own end of each: the application manager
// sends uldata/dldata-resp/dldata-result and receives dldata; the network
// manager receives uldata/dldata-result and sends dldata (§4.4).
// dldataResp is nil when isNetwork is true.
func dataQueues(conn gmq.Connection, scheme, prefix string, opts *Options, isNetwork bool) (uldata, dldata, dldataResp, dldataResult gmq.Queue, err error) {
	unit := opts.unit()
	uldataName := gmq.BuildQueueName(prefix, unit, opts.Name, "uldata")
	dldataName := gmq.BuildQueueName(prefix, unit, opts.Name, "dldata")
	dldataResultName := gmq.BuildQueueName(prefix, unit, opts.Name, "dldata-result")

	uldata, err = newQueue(conn, scheme, uldataName, isNetwork, false, opts)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dldata, err = newQueue(conn, scheme, dldataName, !isNetwork, false, opts)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dldataResult, err = newQueue(conn, scheme, dldataResultName, isNetwork, false, opts)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if !isNetwork {
		dldataRespName := gmq.BuildQueueName(prefix, unit, opts.Name, "dldata-resp")
		dldataResp, err = newQueue(conn, scheme, dldataRespName, false, false, opts)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	return uldata, dldata, dldataResp, dldataResult, nil
}

// ctrlQueue builds the broker→network control queue (network managers
// only); the network manager sends on it (§4.4 send_ctrl).
func ctrlQueue(conn gmq.Connection, scheme, prefix string, opts *Options) (gmq.Queue, error) {
	name := gmq.BuildQueueName(prefix, opts.unit(), opts.Name, "ctrl")
	return newQueue(conn, scheme, name, false, false, opts)
}
