package mq

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cuemby/relaymq/pkg/broker/envelope"
	"github.com/cuemby/relaymq/pkg/gmq"
	"github.com/cuemby/relaymq/pkg/log"
)

const netQueuePrefix = "broker.network"

// NetworkEventHandler receives status changes and inbound uplinks/results
// for one NetworkMgr.
type NetworkEventHandler interface {
	OnStatusChange(mgr *NetworkMgr, status MgrStatus)
	OnUlData(mgr *NetworkMgr, data *envelope.NetUlData) error
	OnDlDataResult(mgr *NetworkMgr, data *envelope.NetDlDataResult) error
}

// NetworkMgr owns the uldata/dldata/dldata-result/ctrl queues for one
// network endpoint (§4.4). Unlike ApplicationMgr, unit id/code may be
// empty (public network).
type NetworkMgr struct {
	opts    Options
	pool    *Pool
	hostURI string

	uldata       gmq.Queue
	dldata       gmq.Queue
	dldataResult gmq.Queue
	ctrl         gmq.Queue

	mu      sync.Mutex
	status  MgrStatus
	handler NetworkEventHandler
}

// NewNetworkMgr acquires/creates the shared connection for hostURI, builds
// and connects this network's four logical queues, and increments the
// pool refcount by four.
func NewNetworkMgr(pool *Pool, hostURI string, opts Options, handler NetworkEventHandler) (*NetworkMgr, error) {
	conn, scheme, err := pool.acquire(hostURI, 0)
	if err != nil {
		return nil, err
	}

	uldata, dldata, _, dldataResult, err := dataQueues(conn, scheme, netQueuePrefix, &opts, true)
	if err != nil {
		return nil, err
	}
	ctrl, err := ctrlQueue(conn, scheme, netQueuePrefix, &opts)
	if err != nil {
		return nil, err
	}

	mgr := &NetworkMgr{
		opts:         opts,
		pool:         pool,
		hostURI:      hostURI,
		uldata:       uldata,
		dldata:       dldata,
		dldataResult: dldataResult,
		ctrl:         ctrl,
		status:       StatusNotReady,
		handler:      handler,
	}

	mgr.uldata.SetHandler(mgr.onQueueStatus)
	mgr.uldata.SetMsgHandler(mgr.onUlDataMsg)
	mgr.dldata.SetHandler(mgr.onQueueStatus)
	mgr.dldataResult.SetHandler(mgr.onQueueStatus)
	mgr.dldataResult.SetMsgHandler(mgr.onDlDataResultMsg)
	mgr.ctrl.SetHandler(mgr.onQueueStatus)

	for _, q := range []gmq.Queue{mgr.uldata, mgr.dldata, mgr.dldataResult, mgr.ctrl} {
		if err := q.Connect(); err != nil {
			return nil, err
		}
	}

	if _, _, err := pool.acquire(hostURI, 4); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *NetworkMgr) UnitID() string   { return m.opts.UnitID }
func (m *NetworkMgr) UnitCode() string { return m.opts.UnitCode }
func (m *NetworkMgr) ID() string       { return m.opts.ID }
func (m *NetworkMgr) Name() string     { return m.opts.Name }

func (m *NetworkMgr) Status() MgrStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *NetworkMgr) MqStatus() MqStatus {
	return MqStatus{
		Uldata:       m.uldata.Status(),
		Dldata:       m.dldata.Status(),
		DldataResult: m.dldataResult.Status(),
		Ctrl:         m.ctrl.Status(),
	}
}

// Close closes all four queues and releases the pool refcount.
func (m *NetworkMgr) Close() error {
	for _, q := range []gmq.Queue{m.uldata, m.dldata, m.dldataResult, m.ctrl} {
		if err := q.Close(); err != nil {
			return err
		}
	}
	return m.pool.release(m.hostURI, 4)
}

// SendDlData publishes broker→network downlink data.
func (m *NetworkMgr) SendDlData(ctx context.Context, data *envelope.NetDlData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.dldata.SendMsg(ctx, payload)
}

// SendCtrl publishes a device-provisioning control message to the network.
func (m *NetworkMgr) SendCtrl(ctx context.Context, ctrl *envelope.NetworkCtrl) error {
	payload, err := json.Marshal(ctrl)
	if err != nil {
		return err
	}
	return m.ctrl.SendMsg(ctx, payload)
}

func (m *NetworkMgr) onQueueStatus(_ gmq.Queue, _ gmq.Event) {
	ready := m.uldata.Status() == gmq.StatusConnected &&
		m.dldata.Status() == gmq.StatusConnected &&
		m.dldataResult.Status() == gmq.StatusConnected &&
		m.ctrl.Status() == gmq.StatusConnected

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

// onUlDataMsg validates an inbound uldata message. Malformed input is
// acked and dropped without invoking the handler — the network side has
// no response queue to answer on (§9 asymmetry).
func (m *NetworkMgr) onUlDataMsg(msg gmq.Message) error {
	logger := log.WithManager("network", m.opts.ID)

	data, ok := envelope.ParseNetUlData(msg.Payload())
	if !ok {
		logger.Warn().Msg("invalid uldata")
		if err := msg.Ack(); err != nil {
			logger.Error().Err(err).Msg("ack failed")
		}
		return nil
	}

	if err := m.handler.OnUlData(m, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (m *NetworkMgr) onDlDataResultMsg(msg gmq.Message) error {
	logger := log.WithManager("network", m.opts.ID)

	data, ok := envelope.ParseNetDlDataResult(msg.Payload())
	if !ok {
		logger.Warn().Msg("invalid dldata-result")
		if err := msg.Ack(); err != nil {
			logger.Error().Err(err).Msg("ack failed")
		}
		return nil
	}

	if err := m.handler.OnDlDataResult(m, data); err != nil {
		return err
	}
	return msg.Ack()
}
