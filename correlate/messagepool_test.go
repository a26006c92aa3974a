package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

func newSyncChannel() *channel.Channel {
	a, _ := channel.NewMockConnPair()
	return channel.New("loc", "proto", channel.MockProtocol{}, a, false)
}

func newAsyncChannel() *channel.Channel {
	a, _ := channel.NewMockConnPair()
	return channel.New("loc", "proto", channel.MockProtocol{}, a, true)
}

func TestSynchronousRoundTrip(t *testing.T) {
	pool := NewMessagePool(16)
	ch := newSyncChannel()
	defer ch.Close()

	req := commcore.NewMessage("op", "/", "in")
	pool.RegisterSynchronous(ch, req)

	resp := commcore.NewMessageWithID(req.ID(), "op", "/", "out")
	done := make(chan struct{})
	go func() {
		delivered := pool.ReceiveResponse(ch, resp)
		assert.True(t, delivered)
		close(done)
	}()

	got, err := pool.RecvResponseFor(ch, req)
	require.NoError(t, err)
	assert.Equal(t, "out", got.Value())
	<-done
}

func TestSynchronousRecvWithoutRegistrationFails(t *testing.T) {
	pool := NewMessagePool(16)
	ch := newSyncChannel()
	defer ch.Close()

	_, err := pool.RecvResponseFor(ch, commcore.NewMessage("op", "/", nil))
	require.Error(t, err)
	var ce *commcore.CorrelationError
	assert.ErrorAs(t, err, &ce)
}

func TestAsynchronousRoundTrip(t *testing.T) {
	pool := NewMessagePool(16)
	ch := newAsyncChannel()
	defer ch.Close()

	req := commcore.NewMessage("op", "/", "in")
	pool.RegisterAsynchronous(req.ID(), "op", nil, 0)

	resp := commcore.NewMessageWithID(req.ID(), "op", "/", "out")
	done := make(chan struct{})
	go func() {
		assert.True(t, pool.ReceiveResponse(ch, resp))
		close(done)
	}()

	got, err := pool.RecvResponseFor(ch, req)
	require.NoError(t, err)
	assert.Equal(t, "out", got.Value())
	<-done
}

func TestReceiveResponseWithoutRegistrationIsDiscarded(t *testing.T) {
	pool := NewMessagePool(16)
	ch := newAsyncChannel()
	defer ch.Close()

	delivered := pool.ReceiveResponse(ch, commcore.NewMessageWithID(999, "op", "/", nil))
	assert.False(t, delivered)
}

func TestRetrieveSynchronousRequest(t *testing.T) {
	pool := NewMessagePool(16)
	ch := newSyncChannel()
	defer ch.Close()

	_, ok := pool.RetrieveSynchronousRequest(ch)
	assert.False(t, ok)

	req := commcore.NewMessage("op", "/", "in")
	pool.RegisterSynchronous(ch, req)

	got, ok := pool.RetrieveSynchronousRequest(ch)
	require.True(t, ok)
	assert.Equal(t, req.ID(), got.ID())
}

func TestRetrieveAsynchronousRequest(t *testing.T) {
	pool := NewMessagePool(16)

	_, ok := pool.RetrieveAsynchronousRequest(7)
	assert.False(t, ok)

	pool.RegisterAsynchronous(7, "op", nil, 0)
	name, ok := pool.RetrieveAsynchronousRequest(7)
	require.True(t, ok)
	assert.Equal(t, "op", name)
}

func TestAckAsynchronousExtendsOnceOnly(t *testing.T) {
	pool := NewMessagePool(16)
	interp := &stubInterpreter{}

	pool.RegisterAsynchronous(1, "op", interp, time.Hour)

	assert.True(t, pool.AckAsynchronous(1, interp, time.Hour))
	assert.False(t, pool.AckAsynchronous(1, interp, time.Hour), "only one nudge is permitted")
}

type stubInterpreter struct{}

func (stubInterpreter) LogWarning(string)                                      {}
func (stubInterpreter) LogSevere(string)                                       {}
func (stubInterpreter) LogFine(string)                                         {}
func (stubInterpreter) ClassLoader() commcore.ExtensionLoader                  { return nil }
func (stubInterpreter) GetInputOperation(string) (commcore.OperationType, bool) { return nil, false }
func (stubInterpreter) CorrelationEngine() commcore.CorrelationEngine          { return nil }
func (stubInterpreter) AddTimeoutHandler(d time.Duration, fn func()) commcore.TimeoutHandle {
	timer := time.AfterFunc(d, fn)
	return stubTimeoutHandle{timer}
}
func (stubInterpreter) PersistentConnectionTimeout() time.Duration { return 0 }

type stubTimeoutHandle struct{ t *time.Timer }

func (h stubTimeoutHandle) Cancel() { h.t.Stop() }
