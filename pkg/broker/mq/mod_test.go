package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_PrefetchDefault(t *testing.T) {
	o := &Options{}
	assert.Equal(t, defPrefetch, o.prefetch())

	o.Prefetch = 5
	assert.Equal(t, 5, o.prefetch())
}

func TestOptions_Unit(t *testing.T) {
	o := &Options{}
	assert.Equal(t, "_", o.unit())

	o.UnitCode = "unit1"
	assert.Equal(t, "unit1", o.unit())
}

func TestPool_RejectsUnsupportedScheme(t *testing.T) {
	p := NewPool()
	_, _, err := p.acquire("ftp://localhost", 1)
	require.Error(t, err)
}

func TestPool_SharesConnectionAcrossAcquires(t *testing.T) {
	p := NewPool()

	_, _, err := p.acquire("amqp://localhost", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Refs("amqp://localhost"))
	assert.Equal(t, 1, p.Size())

	_, _, err = p.acquire("amqp://localhost", 4)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Refs("amqp://localhost"))
	assert.Equal(t, 1, p.Size())
}

func TestPool_ReleaseRemovesAtZero(t *testing.T) {
	p := NewPool()

	_, _, err := p.acquire("amqp://localhost", 4)
	require.NoError(t, err)

	require.NoError(t, p.release("amqp://localhost", 4))
	assert.Equal(t, 0, p.Size())
}

func TestPool_ReleaseKeepsPositiveRefs(t *testing.T) {
	p := NewPool()

	_, _, err := p.acquire("amqp://localhost", 8)
	require.NoError(t, err)

	require.NoError(t, p.release("amqp://localhost", 4))
	assert.Equal(t, 4, p.Refs("amqp://localhost"))
	assert.Equal(t, 1, p.Size())
}
