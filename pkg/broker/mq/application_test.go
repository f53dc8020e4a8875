package mq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relaymq/pkg/broker/envelope"
	"github.com/cuemby/relaymq/pkg/gmqerr"
)

type fakeAppHandler struct {
	statusChanges []MgrStatus
	dlDataResp    *envelope.AppDlDataResp
	dlDataErr     error
}

func (h *fakeAppHandler) OnStatusChange(_ *ApplicationMgr, status MgrStatus) {
	h.statusChanges = append(h.statusChanges, status)
}

func (h *fakeAppHandler) OnDlData(_ *ApplicationMgr, _ *envelope.AppDlData) (*envelope.AppDlDataResp, error) {
	return h.dlDataResp, h.dlDataErr
}

func TestNewApplicationMgr_RequiresUnitID(t *testing.T) {
	pool := NewPool()
	_, err := NewApplicationMgr(pool, "amqp://localhost", Options{UnitCode: "u1", ID: "app1", Name: "app1"}, &fakeAppHandler{})
	require.ErrorIs(t, err, gmqerr.ErrEmptyUnit)
}

func TestNewApplicationMgr_BuildsFourQueues(t *testing.T) {
	pool := NewPool()
	mgr, err := NewApplicationMgr(pool, "amqp://localhost", Options{UnitID: "u1", UnitCode: "unit1", ID: "app1", Name: "app1"}, &fakeAppHandler{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	assert.Equal(t, "broker.application.unit1.app1.uldata", mgr.uldata.Name())
	assert.Equal(t, "broker.application.unit1.app1.dldata", mgr.dldata.Name())
	assert.Equal(t, "broker.application.unit1.app1.dldata-resp", mgr.dldataResp.Name())
	assert.Equal(t, "broker.application.unit1.app1.dldata-result", mgr.dldataResult.Name())
	assert.Equal(t, 4, pool.Refs("amqp://localhost"))
}

func TestApplicationMgr_OnDlDataMsg_InvalidIsAcked(t *testing.T) {
	pool := NewPool()
	handler := &fakeAppHandler{}
	mgr, err := NewApplicationMgr(pool, "amqp://localhost", Options{UnitID: "u1", UnitCode: "unit1", ID: "app1", Name: "app1"}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	msg := &fakeMessage{payload: []byte(`{"correlationId":"","data":"zz"}`)}
	err = mgr.onDlDataMsg(msg)
	require.NoError(t, err) // invalid input is ack-and-drop, never nacked
	assert.True(t, msg.acked)
}

func TestApplicationMgr_SendUlData_FailsWhenNotConnected(t *testing.T) {
	pool := NewPool()
	mgr, err := NewApplicationMgr(pool, "amqp://localhost", Options{UnitID: "u1", UnitCode: "unit1", ID: "app1", Name: "app1"}, &fakeAppHandler{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	// Not connected yet, so the send must fail with NotConnected rather
	// than panic or silently succeed.
	err = mgr.SendUlData(context.Background(), &envelope.AppUlData{DataID: "d1"})
	require.Error(t, err)
}

type fakeMessage struct {
	payload []byte
	acked   bool
	nacked  bool
}

func (m *fakeMessage) Payload() []byte { return m.payload }
func (m *fakeMessage) Ack() error      { m.acked = true; return nil }
func (m *fakeMessage) Nack() error     { m.nacked = true; return nil }
