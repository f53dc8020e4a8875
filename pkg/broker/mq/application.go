package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/relaymq/pkg/broker/envelope"
	"github.com/cuemby/relaymq/pkg/gmq"
	"github.com/cuemby/relaymq/pkg/gmqerr"
	"github.com/cuemby/relaymq/pkg/log"
)

const appQueuePrefix = "broker.application"

// ApplicationEventHandler receives status changes and inbound downlinks
// for one ApplicationMgr.
type ApplicationEventHandler interface {
	OnStatusChange(mgr *ApplicationMgr, status MgrStatus)
	// OnDlData returns the response to publish on dldata-resp, or an error
	// to nack the original message (the broker will redeliver it).
	OnDlData(mgr *ApplicationMgr, data *envelope.AppDlData) (*envelope.AppDlDataResp, error)
}

// ApplicationMgr owns the uldata/dldata/dldata-resp/dldata-result queues
// for one application endpoint (§4.4).
type ApplicationMgr struct {
	opts    Options
	pool    *Pool
	hostURI string

	uldata       gmq.Queue
	dldata       gmq.Queue
	dldataResp   gmq.Queue
	dldataResult gmq.Queue

	mu      sync.Mutex
	status  MgrStatus
	handler ApplicationEventHandler
}

// NewApplicationMgr acquires/creates the shared connection for hostURI,
// builds and connects this application's four logical queues, and
// increments the pool refcount by four.
func NewApplicationMgr(pool *Pool, hostURI string, opts Options, handler ApplicationEventHandler) (*ApplicationMgr, error) {
	if opts.UnitID == "" {
		return nil, fmt.Errorf("%w: application", gmqerr.ErrEmptyUnit)
	}

	conn, scheme, err := pool.acquire(hostURI, 0)
	if err != nil {
		return nil, err
	}

	uldata, dldata, dldataResp, dldataResult, err := dataQueues(conn, scheme, appQueuePrefix, &opts, false)
	if err != nil {
		return nil, err
	}

	mgr := &ApplicationMgr{
		opts:         opts,
		pool:         pool,
		hostURI:      hostURI,
		uldata:       uldata,
		dldata:       dldata,
		dldataResp:   dldataResp,
		dldataResult: dldataResult,
		status:       StatusNotReady,
		handler:      handler,
	}

	mgr.uldata.SetHandler(mgr.onQueueStatus)
	mgr.dldata.SetHandler(mgr.onQueueStatus)
	mgr.dldata.SetMsgHandler(mgr.onDlDataMsg)
	mgr.dldataResp.SetHandler(mgr.onQueueStatus)
	mgr.dldataResult.SetHandler(mgr.onQueueStatus)

	for _, q := range []gmq.Queue{mgr.uldata, mgr.dldata, mgr.dldataResp, mgr.dldataResult} {
		if err := q.Connect(); err != nil {
			return nil, err
		}
	}

	if _, _, err := pool.acquire(hostURI, 4); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *ApplicationMgr) UnitID() string   { return m.opts.UnitID }
func (m *ApplicationMgr) UnitCode() string { return m.opts.UnitCode }
func (m *ApplicationMgr) ID() string       { return m.opts.ID }
func (m *ApplicationMgr) Name() string     { return m.opts.Name }

func (m *ApplicationMgr) Status() MgrStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *ApplicationMgr) MqStatus() MqStatus {
	return MqStatus{
		Uldata:       m.uldata.Status(),
		Dldata:       m.dldata.Status(),
		DldataResp:   m.dldataResp.Status(),
		DldataResult: m.dldataResult.Status(),
		Ctrl:         gmq.StatusClosed,
	}
}

// Close closes all four queues and releases the pool refcount.
func (m *ApplicationMgr) Close() error {
	for _, q := range []gmq.Queue{m.uldata, m.dldata, m.dldataResp, m.dldataResult} {
		if err := q.Close(); err != nil {
			return err
		}
	}
	return m.pool.release(m.hostURI, 4)
}

// SendUlData publishes broker→application uplink data.
func (m *ApplicationMgr) SendUlData(ctx context.Context, data *envelope.AppUlData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.uldata.SendMsg(ctx, payload)
}

// SendDlDataResp answers an application's downlink request.
func (m *ApplicationMgr) SendDlDataResp(ctx context.Context, resp *envelope.AppDlDataResp) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return m.dldataResp.SendMsg(ctx, payload)
}

// SendDlDataResult forwards a downlink's terminal status to the application.
func (m *ApplicationMgr) SendDlDataResult(ctx context.Context, result *envelope.AppDlDataResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return m.dldataResult.SendMsg(ctx, payload)
}

func (m *ApplicationMgr) onQueueStatus(_ gmq.Queue, _ gmq.Event) {
	ready := m.uldata.Status() == gmq.StatusConnected &&
		m.dldata.Status() == gmq.StatusConnected &&
		m.dldataResp.Status() == gmq.StatusConnected &&
		m.dldataResult.Status() == gmq.StatusConnected

	next := StatusNotReady
	if ready {
		next = StatusReady
	}

	m.mu.Lock()
	changed := m.status != next
	m.status = next
	m.mu.Unlock()

	if changed && m.handler != nil {
		m.handler.OnStatusChange(m, next)
	}
}

// onDlDataMsg validates an inbound dldata message and dispatches it to the
// user handler, per the ack/nack policy in §4.4.
func (m *ApplicationMgr) onDlDataMsg(msg gmq.Message) error {
	logger := log.WithManager("application", m.opts.ID)

	data, errResp := envelope.ParseAppDlData(msg.Payload())
	if errResp != nil {
		logger.Warn().Str("message", errResp.Message).Msg("invalid dldata")
		if err := msg.Ack(); err != nil {
			logger.Error().Err(err).Msg("ack failed")
		}
		if err := m.SendDlDataResp(context.Background(), errResp); err != nil {
			logger.Error().Err(err).Msg("send dldata-resp failed")
		}
		return nil
	}

	resp, err := m.handler.OnDlData(m, data)
	if err != nil {
		return err
	}
	if ackErr := msg.Ack(); ackErr != nil {
		logger.Error().Err(ackErr).Msg("ack failed")
	}
	if resp != nil {
		if err := m.SendDlDataResp(context.Background(), resp); err != nil {
			logger.Error().Err(err).Msg("send dldata-resp failed")
		}
	}
	return nil
}
