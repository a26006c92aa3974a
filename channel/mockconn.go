package channel

import (
	"os"
	"sync"
)

//	MockConn is a paired, pipe-backed connection double used across the
//	test suite instead of a real socket (generalized from the teacher's
//	paired-transport mock, adapted here to satisfy Conn directly rather
//	than a pairing-specific transport interface).
type MockConn struct {
	r  *os.File
	w  *os.File
	mu sync.Mutex
}

//	NewMockConnPair returns two MockConns, each other's mirror: a write
//	on one is a read on the other. Each direction is an OS pipe, so a
//	write returns once its bytes are buffered, without waiting for the
//	peer to read them, the way a socket write does.
func NewMockConnPair() (a, b *MockConn) {
	ar, bw, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	br, aw, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	a = &MockConn{r: ar, w: aw}
	b = &MockConn{r: br, w: bw}
	return a, b
}

func (m *MockConn) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

func (m *MockConn) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

//	Close closes both halves of this endpoint. Closing one side of a
//	MockConn pair unblocks a pending Read on the peer with io.EOF,
//	matching how a real closed socket behaves.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rerr := m.r.Close()
	werr := m.w.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

var _ Conn = (*MockConn)(nil)
