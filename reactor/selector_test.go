package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

func newPipeChannel(t *testing.T) (*channel.Channel, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	ch := channel.New("pipe://a", "mock", channel.MockProtocol{}, a, false)
	t.Cleanup(func() { ch.Close() })
	return ch, b
}

func TestSelectorHandsOffReadyChannel(t *testing.T) {
	ch, peer := newPipeChannel(t)

	handedOff := make(chan *channel.Channel, 1)
	sel := newSelector(0, 5*time.Millisecond, func(c *channel.Channel) {
		handedOff <- c
	}, nil)
	sel.Start()
	defer sel.Stop()

	sel.Register(ch)

	go func() {
		msg := commcore.NewMessage("op", "/", "payload")
		_ = channel.MockProtocol{}.Send(peer, msg, peer)
	}()

	select {
	case got := <-handedOff:
		assert.Equal(t, ch, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for selector handoff")
	}
}

func TestSelectorRegisterBypassesWhenAlreadyBuffered(t *testing.T) {
	ch, peer := newPipeChannel(t)

	msg := commcore.NewMessage("op", "/", "payload")
	go func() { _ = channel.MockProtocol{}.Send(peer, msg, peer) }()
	time.Sleep(20 * time.Millisecond) // let the write land in the pipe

	handedOff := make(chan *channel.Channel, 1)
	sel := newSelector(0, 5*time.Millisecond, func(c *channel.Channel) {
		handedOff <- c
	}, nil)
	sel.Start()
	defer sel.Stop()

	sel.Register(ch)

	select {
	case got := <-handedOff:
		assert.Equal(t, ch, got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected immediate bypass handoff")
	}
}

func TestUnregisterStopsFurtherHandoff(t *testing.T) {
	ch, _ := newPipeChannel(t)

	handedOff := make(chan *channel.Channel, 1)
	sel := newSelector(0, 5*time.Millisecond, func(c *channel.Channel) {
		handedOff <- c
	}, nil)
	sel.Start()
	defer sel.Stop()

	sel.Register(ch)
	sel.Unregister(ch)

	select {
	case <-handedOff:
		t.Fatal("should not hand off after Unregister")
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, int32(-1), ch.SelectorIndex)
}
