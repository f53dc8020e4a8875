package corelib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCode(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"neta", true},
		{"net-a", true},
		{"net_a", true},
		{"", false},
		{"NETA", false},
		{"net a", false},
		{"-neta", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsCode(c.in), c.in)
	}
}

func TestTimeStr(t *testing.T) {
	out, err := TimeStr("2023-01-02T03:04:05.678Z")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-02T03:04:05.678Z", out)
}

func TestTimeStr_PadsMissingFraction(t *testing.T) {
	out, err := TimeStr("2023-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-02T03:04:05.000Z", out)
}

func TestTimeStr_RejectsInvalid(t *testing.T) {
	_, err := TimeStr("not-a-time")
	require.Error(t, err)
}

func TestRandomString_Length(t *testing.T) {
	s := RandomString(12)
	assert.Len(t, s, 12)
}
