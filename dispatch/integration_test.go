package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
	"github.com/kryptco/commcore/reactor"
)

//	TestArrayExecutorDispatcherHandlesReady wires the Selector Array,
//	the Handler Executor and the Dispatcher together exactly the way
//	cmd/commcored does: HandoffFunc submits HandleReady to the
//	executor rather than calling it inline. A regression here is a
//	channel-lock double-release (channel.ReentrantMutex panics on an
//	unlock it doesn't own), which the executor swallows — so the
//	observable symptom is the reply never arriving, not a crash.
func TestArrayExecutorDispatcherHandlesReady(t *testing.T) {
	ch, peer := newTestInboundChannel()
	defer ch.Close()

	interp := fakeInterp{
		ops: map[string]commcore.OperationType{"echo": fakeOpType{}},
		engine: &fakeEngine{fn: func(op string, v commcore.Value) (commcore.Value, error) {
			return v, nil
		}},
	}
	port := &InputPort{NativeOperations: map[string]bool{"echo": true}}
	executor := NewExecutor(0, interp)
	dispatcher := NewDispatcher(interp, func(*channel.Channel) {})

	array := reactor.NewArray(1, func(c *channel.Channel) {
		executor.Submit(func(*ExecutionSlot) {
			dispatcher.HandleReady(c, port)
		})
	}, interp)
	array.Start()
	defer array.Stop()

	array.Register(ch)

	req := commcore.NewMessage("echo", "/", "hi")
	require.NoError(t, channel.MockProtocol{}.Send(peer, req, peer))

	respCh := make(chan commcore.Message, 1)
	go func() {
		resp, err := channel.MockProtocol{}.Recv(peer, peer)
		if err == nil {
			respCh <- resp
		}
	}()

	select {
	case resp := <-respCh:
		assert.Equal(t, req.ID(), resp.ID())
		assert.Equal(t, "hi", resp.Value())
		assert.False(t, resp.IsFault())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reply: HandleReady likely panicked on an unheld channel lock")
	}
}

//	TestArrayExecutorDispatcherHandlesSecondMessage sends a follow-up
//	message on the same persistent channel after the first round trip,
//	exercising DisposeForInput's re-registration path through the same
//	async handoff. A MockConn has no read deadline, so Selector.Register
//	takes its ordinary registration branch, not the buffered-data bypass.
func TestArrayExecutorDispatcherHandlesSecondMessage(t *testing.T) {
	ch, peer := newTestInboundChannel()
	defer ch.Close()

	interp := fakeInterp{
		ops: map[string]commcore.OperationType{"echo": fakeOpType{}},
		engine: &fakeEngine{fn: func(op string, v commcore.Value) (commcore.Value, error) {
			return v, nil
		}},
	}
	port := &InputPort{NativeOperations: map[string]bool{"echo": true}}
	executor := NewExecutor(0, interp)

	var array *reactor.Array
	dispatcher := NewDispatcher(interp, func(c *channel.Channel) { array.Register(c) })
	array = reactor.NewArray(1, func(c *channel.Channel) {
		executor.Submit(func(*ExecutionSlot) {
			dispatcher.HandleReady(c, port)
		})
	}, interp)
	array.Start()
	defer array.Stop()

	array.Register(ch)

	for i := 0; i < 2; i++ {
		req := commcore.NewMessage("echo", "/", i)
		require.NoError(t, channel.MockProtocol{}.Send(peer, req, peer))

		respCh := make(chan commcore.Message, 1)
		go func() {
			resp, err := channel.MockProtocol{}.Recv(peer, peer)
			if err == nil {
				respCh <- resp
			}
		}()

		select {
		case resp := <-respCh:
			assert.Equal(t, req.ID(), resp.ID())
			assert.Equal(t, i, resp.Value())
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i)
		}
	}
}
