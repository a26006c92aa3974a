package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryptco/commcore"
)

//	fakeInterpreter is the minimal commcore.Interpreter stub the pool
//	needs: a timeout scheduler. Everything else panics if touched, so
//	a test that exercises an unexpected path fails loudly.
type fakeInterpreter struct {
	persistentTimeout time.Duration
}

func (fakeInterpreter) LogWarning(string)                               {}
func (fakeInterpreter) LogSevere(string)                                {}
func (fakeInterpreter) LogFine(string)                                  {}
func (fakeInterpreter) ClassLoader() commcore.ExtensionLoader           { return nil }
func (fakeInterpreter) GetInputOperation(string) (commcore.OperationType, bool) {
	return nil, false
}
func (fakeInterpreter) CorrelationEngine() commcore.CorrelationEngine { return nil }
func (f fakeInterpreter) AddTimeoutHandler(d time.Duration, fn func()) commcore.TimeoutHandle {
	t := time.AfterFunc(d, fn)
	return timeoutHandleFunc(func() { t.Stop() })
}
func (f fakeInterpreter) PersistentConnectionTimeout() time.Duration { return f.persistentTimeout }

type timeoutHandleFunc func()

func (f timeoutHandleFunc) Cancel() { f() }

func TestPoolAcquireBuildsFreshWhenEmpty(t *testing.T) {
	p := NewPool()
	built := false
	ch, err := p.Acquire("loc", "proto", false, func() (*Channel, error) {
		built = true
		c, _, _ := testPairChannel()
		return c, nil
	})
	require.NoError(t, err)
	assert.True(t, built)
	assert.NotNil(t, ch)
}

func TestPutAndGetPersistentRoundTrip(t *testing.T) {
	p := NewPool()
	ch, _, _ := testPairChannel()
	defer ch.Close()

	interp := fakeInterpreter{persistentTimeout: time.Hour}
	p.PutPersistent("loc", "proto", ch, interp)
	assert.Equal(t, 1, p.Len())

	got := p.GetPersistent("loc", "proto")
	require.NotNil(t, got)
	assert.Equal(t, ch, got)
	assert.Equal(t, 0, p.Len(), "getPersistent evicts unconditionally")
}

func TestGetPersistentReturnsNilWhenAbsent(t *testing.T) {
	p := NewPool()
	assert.Nil(t, p.GetPersistent("loc", "proto"))
}

func TestGetPersistentEvictsClosedChannel(t *testing.T) {
	p := NewPool()
	ch, _, _ := testPairChannel()
	interp := fakeInterpreter{persistentTimeout: time.Hour}
	p.PutPersistent("loc", "proto", ch, interp)

	require.NoError(t, ch.Close())

	assert.Nil(t, p.GetPersistent("loc", "proto"))
	assert.Equal(t, 0, p.Len())
}

func TestGetPersistentEvictsWhenLocked(t *testing.T) {
	p := NewPool()
	ch, _, _ := testPairChannel()
	defer ch.Close()
	interp := fakeInterpreter{persistentTimeout: time.Hour}
	p.PutPersistent("loc", "proto", ch, interp)

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		ch.Lock()
		close(locked)
		<-release
		ch.Unlock()
	}()
	<-locked
	defer close(release)

	assert.Nil(t, p.GetPersistent("loc", "proto"))
	assert.Equal(t, 0, p.Len(), "a locked entry is still evicted from the map, just not returned")
}

func testPairChannel() (*Channel, *MockConn, *MockConn) {
	a, b := NewMockConnPair()
	return New("loc", "proto", MockProtocol{}, a, false), a, b
}
