package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

func TestWireProtocolRoundTrip(t *testing.T) {
	a, b := channel.NewMockConnPair()
	defer a.Close()
	defer b.Close()

	msg := commcore.NewMessage("echo", "/", "payload")
	require.NoError(t, WireProtocol{}.Send(a, msg, a))

	got, err := WireProtocol{}.Recv(b, b)
	require.NoError(t, err)
	assert.Equal(t, msg.ID(), got.ID())
	assert.Equal(t, "echo", got.Operation())
	assert.Equal(t, "payload", got.Value())
	assert.False(t, got.IsFault())
}

func TestWireProtocolFaultRoundTrip(t *testing.T) {
	a, b := channel.NewMockConnPair()
	defer a.Close()
	defer b.Close()

	fault := commcore.FaultFor(&commcore.InvalidOperationError{Operation: "nope"})
	msg := commcore.NewFaultMessage(42, fault)
	require.NoError(t, WireProtocol{}.Send(a, msg, a))

	got, err := WireProtocol{}.Recv(b, b)
	require.NoError(t, err)
	require.True(t, got.IsFault())
	assert.Equal(t, int64(42), got.ID())
	assert.Equal(t, "IOException", got.Fault().Name)
}
