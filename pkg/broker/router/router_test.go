package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relaymq/pkg/broker/envelope"
	"github.com/cuemby/relaymq/pkg/broker/mq"
)

type fakeDevices struct {
	byAddr map[string]*Device // keyed by networkCode+"/"+networkAddr
	byID   map[string]*Device
}

func (f *fakeDevices) ByNetworkAddr(_ context.Context, networkCode, networkAddr string) (*Device, error) {
	if d, ok := f.byAddr[networkCode+"/"+networkAddr]; ok {
		return d, nil
	}
	return nil, assertErr{"device not found"}
}

func (f *fakeDevices) ByID(_ context.Context, deviceID string) (*Device, error) {
	if d, ok := f.byID[deviceID]; ok {
		return d, nil
	}
	return nil, assertErr{"device not found"}
}

func (f *fakeDevices) ByNetworkCodeAddr(_ context.Context, networkCode, networkAddr string) (*Device, error) {
	return f.ByNetworkAddr(context.Background(), networkCode, networkAddr)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func newTestRouter(t *testing.T, devices *fakeDevices) (*Router, *mq.Pool) {
	t.Helper()
	buf, err := NewBuffer(filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })

	r := New(Config{Devices: devices, Buffer: buf})
	return r, mq.NewPool()
}

func TestRouter_OnDlData_UnresolvableDeviceReturnsErrParam(t *testing.T) {
	devices := &fakeDevices{byID: map[string]*Device{}, byAddr: map[string]*Device{}}
	r, pool := newTestRouter(t, devices)

	appMgr, err := mq.NewApplicationMgr(pool, "amqp://localhost", mq.Options{UnitID: "u1", UnitCode: "unit1", ID: "app1", Name: "app1"}, r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = appMgr.Close() })
	r.RegisterApplication(appMgr)

	deviceID := "missing"
	resp, err := r.OnDlData(appMgr, &envelope.AppDlData{CorrelationID: "c1", DeviceID: &deviceID, Data: "0102"})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.CorrelationID)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.DataID)
}

func TestRouter_OnDlData_NoNetworkRegisteredReturnsErrParam(t *testing.T) {
	device := &Device{DeviceID: "dev1", NetworkID: "net1", NetworkAddr: "aabbcc"}
	devices := &fakeDevices{byID: map[string]*Device{"dev1": device}, byAddr: map[string]*Device{}}
	r, pool := newTestRouter(t, devices)

	appMgr, err := mq.NewApplicationMgr(pool, "amqp://localhost", mq.Options{UnitID: "u1", UnitCode: "unit1", ID: "app1", Name: "app1"}, r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = appMgr.Close() })
	r.RegisterApplication(appMgr)

	deviceID := "dev1"
	resp, err := r.OnDlData(appMgr, &envelope.AppDlData{CorrelationID: "c1", DeviceID: &deviceID, Data: "0102"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Error)
}

func TestRouter_OnDlData_ValidAssignsDataIDAndBuffers(t *testing.T) {
	device := &Device{DeviceID: "dev1", NetworkID: "net1", NetworkAddr: "aabbcc"}
	devices := &fakeDevices{byID: map[string]*Device{"dev1": device}, byAddr: map[string]*Device{}}
	r, pool := newTestRouter(t, devices)

	appMgr, err := mq.NewApplicationMgr(pool, "amqp://localhost", mq.Options{UnitID: "u1", UnitCode: "unit1", ID: "app1", Name: "app1"}, r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = appMgr.Close() })
	r.RegisterApplication(appMgr)

	netMgr, err := mq.NewNetworkMgr(pool, "amqp://localhost", mq.Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, r.NetworkHandler())
	require.NoError(t, err)
	t.Cleanup(func() { _ = netMgr.Close() })
	r.RegisterNetwork(netMgr)

	deviceID := "dev1"
	resp, err := r.OnDlData(appMgr, &envelope.AppDlData{CorrelationID: "c1", DeviceID: &deviceID, Data: "0102"})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	require.NotEmpty(t, resp.DataID)

	record, ok, err := r.buffer.Get(resp.DataID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "net1", record.NetworkID)
	assert.Equal(t, "aabbcc", record.NetworkAddr)
	assert.Equal(t, "c1", record.CorrelationID)
}

func TestRouter_OnUlData_UnresolvableDeviceIsDropped(t *testing.T) {
	devices := &fakeDevices{byID: map[string]*Device{}, byAddr: map[string]*Device{}}
	r, pool := newTestRouter(t, devices)

	netMgr, err := mq.NewNetworkMgr(pool, "amqp://localhost", mq.Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, r.NetworkHandler())
	require.NoError(t, err)
	t.Cleanup(func() { _ = netMgr.Close() })
	r.RegisterNetwork(netMgr)

	err = r.NetworkHandler().OnUlData(netMgr, &envelope.NetUlData{Time: "2024-01-02T03:04:05.000Z", NetworkAddr: "aabbcc", Data: "0102"})
	require.NoError(t, err)
}

func TestRouter_OnDlDataResult_UnknownDataIDIsDropped(t *testing.T) {
	devices := &fakeDevices{byID: map[string]*Device{}, byAddr: map[string]*Device{}}
	r, pool := newTestRouter(t, devices)

	netMgr, err := mq.NewNetworkMgr(pool, "amqp://localhost", mq.Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, r.NetworkHandler())
	require.NoError(t, err)
	t.Cleanup(func() { _ = netMgr.Close() })
	r.RegisterNetwork(netMgr)

	err = r.NetworkHandler().OnDlDataResult(netMgr, &envelope.NetDlDataResult{DataID: "unknown", Status: 0})
	require.NoError(t, err)
}

func TestRouter_OnDlDataResult_KnownDataIDRemovesBufferEntry(t *testing.T) {
	device := &Device{DeviceID: "dev1", NetworkID: "net1", NetworkAddr: "aabbcc"}
	devices := &fakeDevices{byID: map[string]*Device{"dev1": device}, byAddr: map[string]*Device{}}
	r, pool := newTestRouter(t, devices)

	appMgr, err := mq.NewApplicationMgr(pool, "amqp://localhost", mq.Options{UnitID: "u1", UnitCode: "unit1", ID: "app1", Name: "app1"}, r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = appMgr.Close() })
	r.RegisterApplication(appMgr)

	netMgr, err := mq.NewNetworkMgr(pool, "amqp://localhost", mq.Options{UnitCode: "unit1", ID: "net1", Name: "net1"}, r.NetworkHandler())
	require.NoError(t, err)
	t.Cleanup(func() { _ = netMgr.Close() })
	r.RegisterNetwork(netMgr)

	deviceID := "dev1"
	resp, err := r.OnDlData(appMgr, &envelope.AppDlData{CorrelationID: "c1", DeviceID: &deviceID, Data: "0102"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.DataID)

	err = r.NetworkHandler().OnDlDataResult(netMgr, &envelope.NetDlDataResult{DataID: resp.DataID, Status: 0})
	require.NoError(t, err)

	_, ok, err := r.buffer.Get(resp.DataID)
	require.NoError(t, err)
	assert.False(t, ok)
}
