package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relaymq/pkg/gmqerr"
)

func TestNewQueue_RejectsEmptyName(t *testing.T) {
	_, err := NewQueue(QueueOptions{Name: "", IsRecv: false}, nil)
	require.Error(t, err)
}

func TestNewQueue_RejectsBadPattern(t *testing.T) {
	_, err := NewQueue(QueueOptions{Name: "has a space"}, nil)
	require.Error(t, err)
}

func TestNewQueue_RejectsZeroPrefetchForRecv(t *testing.T) {
	_, err := NewQueue(QueueOptions{Name: "broker.network._.net1.uldata", IsRecv: true, Prefetch: 0}, nil)
	require.ErrorIs(t, err, gmqerr.ErrZeroPrefetch)
}

func TestNewQueue_AllowsZeroPrefetchForSend(t *testing.T) {
	q, err := NewQueue(QueueOptions{Name: "broker.network._.net1.dldata", IsRecv: false, Prefetch: 0}, nil)
	require.NoError(t, err)
	assert.False(t, q.IsRecv())
}

func TestNewQueue_DefaultsReconnectMillis(t *testing.T) {
	q, err := NewQueue(QueueOptions{Name: "broker.network._.net1.ctrl", IsRecv: false}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, q.opts.ReconnectMillis)
}

func TestSendMsg_ReceiverRejected(t *testing.T) {
	q, err := NewQueue(QueueOptions{Name: "broker.network._.net1.uldata", IsRecv: true, Prefetch: 1}, nil)
	require.NoError(t, err)
	err = q.SendMsg(nil, []byte("x"))
	require.Error(t, err)
}

func TestSendMsg_NotConnected(t *testing.T) {
	q, err := NewQueue(QueueOptions{Name: "broker.network._.net1.dldata", IsRecv: false}, nil)
	require.NoError(t, err)
	err = q.SendMsg(nil, []byte("x"))
	require.Error(t, err)
}
