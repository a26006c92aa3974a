package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptco/commcore"
)

func newTestChannel(t *testing.T) (*Channel, *MockConn, *MockConn) {
	t.Helper()
	a, b := NewMockConnPair()
	ch := New("mock://a", "mock", MockProtocol{}, a, false)
	return ch, a, b
}

func TestChannelSendRecvRoundTrip(t *testing.T) {
	chA, _, b := newTestChannel(t)
	defer chA.Close()

	req := commcore.NewMessage("echo", "/", "hello")
	require.NoError(t, chA.Send(req))

	got, err := MockProtocol{}.Recv(b, b)
	require.NoError(t, err)
	assert.Equal(t, req.ID(), got.ID())
	assert.Equal(t, "echo", got.Operation())
	assert.Equal(t, "hello", got.Value())
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	ch, _, _ := newTestChannel(t)

	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())

	err := ch.Close()
	require.Error(t, err)
	var closing *commcore.ChannelClosing
	assert.ErrorAs(t, err, &closing)
}

func TestChannelReentrantLock(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	defer ch.Close()

	ch.Lock()
	assert.True(t, ch.mu.HeldByCurrentGoroutine())
	ch.Lock() // re-entrant: must not deadlock
	ch.Unlock()
	ch.Unlock()
	assert.False(t, ch.mu.HeldByCurrentGoroutine())
}

func TestChannelTryLockFailsWhenHeldByOtherGoroutine(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	defer ch.Close()

	ch.Lock()
	done := make(chan bool, 1)
	go func() {
		done <- ch.TryLock()
	}()
	assert.False(t, <-done)
	ch.Unlock()
}

func TestDisposeForInputClosesWhenMarked(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	ch.MarkToBeClosed()

	registered := false
	ch.DisposeForInput(func(*Channel) { registered = true })

	assert.False(t, registered)
	assert.False(t, ch.IsOpen())
}

func TestDisposeForInputRegistersWhenOpen(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	defer ch.Close()

	registered := false
	ch.DisposeForInput(func(c *Channel) { registered = c == ch })

	assert.True(t, registered)
	assert.True(t, ch.IsOpen())
}

func TestRedirectionBookkeeping(t *testing.T) {
	original, _, _ := newTestChannel(t)
	forwarder, _, _ := newTestChannel(t)
	defer original.Close()
	defer forwarder.Close()

	assert.False(t, forwarder.IsForwarder())
	forwarder.SetRedirectionChannel(original, 42)
	assert.True(t, forwarder.IsForwarder())
	assert.Equal(t, original, forwarder.RedirectionPartner())
	assert.Equal(t, int64(42), forwarder.RedirectionMessageID())
}
