package mq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relaymq/pkg/broker/envelope"
)

type fakeNetHandler struct {
	statusChanges []MgrStatus
	ulDataErr     error
	dlResultErr   error
}

func (h *fakeNetHandler) OnStatusChange(_ *NetworkMgr, status MgrStatus) {
	h.statusChanges = append(h.statusChanges, status)
}

func (h *fakeNetHandler) OnUlData(_ *NetworkMgr, _ *envelope.NetUlData) error {
	return h.ulDataErr
}

func (h *fakeNetHandler) OnDlDataResult(_ *NetworkMgr, _ *envelope.NetDlDataResult) error {
	return h.dlResultErr
}

func TestNewNetworkMgr_AllowsEmptyUnit(t *testing.T) {
	pool := NewPool()
	mgr, err := NewNetworkMgr(pool, "amqp://localhost", Options{ID: "net1", Name: "net1"}, &fakeNetHandler{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	assert.Equal(t, "broker.network._.net1.uldata", mgr.uldata.Name())
}

func TestNewNetworkMgr_BuildsFourQueues(t *testing.T) {
	pool := NewPool()
	mgr, err := NewNetworkMgr(pool, "amqp://localhost", Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, &fakeNetHandler{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	assert.Equal(t, "broker.network.unit1.net1.uldata", mgr.uldata.Name())
	assert.Equal(t, "broker.network.unit1.net1.dldata", mgr.dldata.Name())
	assert.Equal(t, "broker.network.unit1.net1.dldata-result", mgr.dldataResult.Name())
	assert.Equal(t, "broker.network.unit1.net1.ctrl", mgr.ctrl.Name())
	assert.Equal(t, 4, pool.Refs("amqp://localhost"))
}

func TestNetworkMgr_OnUlDataMsg_InvalidAcksWithoutResponse(t *testing.T) {
	pool := NewPool()
	handler := &fakeNetHandler{}
	mgr, err := NewNetworkMgr(pool, "amqp://localhost", Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	msg := &fakeMessage{payload: []byte(`not json`)}
	err = mgr.onUlDataMsg(msg)
	require.NoError(t, err) // invalid input is ack-and-drop, never nacked, no response queue
	assert.True(t, msg.acked)
}

func TestNetworkMgr_OnUlDataMsg_ValidDelegatesToHandler(t *testing.T) {
	pool := NewPool()
	handler := &fakeNetHandler{}
	mgr, err := NewNetworkMgr(pool, "amqp://localhost", Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	msg := &fakeMessage{payload: []byte(`{"time":"2024-01-02T03:04:05Z","networkAddr":"AABBCC","data":"0102"}`)}
	err = mgr.onUlDataMsg(msg)
	require.NoError(t, err)
	assert.True(t, msg.acked)
}

func TestNetworkMgr_OnDlDataResultMsg_HandlerErrorNacks(t *testing.T) {
	pool := NewPool()
	handler := &fakeNetHandler{dlResultErr: assert.AnError}
	mgr, err := NewNetworkMgr(pool, "amqp://localhost", Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	msg := &fakeMessage{payload: []byte(`{"dataId":"d1","status":0}`)}
	err = mgr.onDlDataResultMsg(msg)
	require.Error(t, err)
	assert.False(t, msg.acked)
}

func TestNetworkMgr_SendDlData_FailsWhenNotConnected(t *testing.T) {
	pool := NewPool()
	mgr, err := NewNetworkMgr(pool, "amqp://localhost", Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, &fakeNetHandler{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	err = mgr.SendDlData(context.Background(), &envelope.NetDlData{DataID: "d1", NetworkAddr: "aabbcc", Data: "0102"})
	require.Error(t, err) // not connected yet
}

func TestNetworkMgr_SendCtrl_FailsWhenNotConnected(t *testing.T) {
	pool := NewPool()
	mgr, err := NewNetworkMgr(pool, "amqp://localhost", Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, &fakeNetHandler{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	ctrl := &envelope.NetworkCtrl{Operation: envelope.OpAddDevice, New: envelope.NetworkCtrlNew{NetworkAddr: "aabbcc"}}
	err = mgr.SendCtrl(context.Background(), ctrl)
	require.Error(t, err) // not connected yet
}
