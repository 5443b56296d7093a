package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", a.String())

	_, err = ParseAddress("10.0.0")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress("10.0.0.256")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEndpointString(t *testing.T) {
	e := Endpoint{Address: MustParseAddress("5.5.5.5"), Port: 3456}
	assert.Equal(t, "5.5.5.5:3456", e.String())
	assert.True(t, Endpoint{}.IsZero())
	assert.False(t, e.IsZero())
}
