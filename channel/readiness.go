package channel

import (
	"errors"
	"io"
	"net"
	"time"
)

//	Deadliner is satisfied by any Conn that supports read deadlines —
//	every net.Conn does. The Selector Array uses it to realize
//	readiness-without-reads on top of Go's ordinary blocking net.Conn,
//	since net.Conn exposes no portable "is data available" primitive
//	the way a Java NIO Selector does (spec.md §4.4; see DESIGN.md Open
//	Question 4).
type Deadliner interface {
	SetReadDeadline(t time.Time) error
}

//	ErrNotPollable is returned by PollReady when the channel's
//	underlying Conn does not support read deadlines. The Selector Array
//	still accepts such a channel, but counts every probe of it as ready
//	and hands it off, so its handler waits in a blocking Recv; the
//	Polling Loop (package reactor, component C9) probes such media
//	through a ReadyProbe instead.
var ErrNotPollable = errors.New("channel: underlying conn does not support read deadlines")

//	PollReady peeks at most one byte from the channel's stream within
//	timeout, buffering it (never discarding it) for the next Recv. It
//	returns true if a byte became available — the channel is readable —
//	or false on a plain timeout, which is not an error. A timeout of
//	zero or less waits one millisecond: a deadline at or before now
//	fails the read before already-buffered bytes are looked at. This is
//	the deadline probe DESIGN.md describes: the Selector Array uses it
//	to learn readiness without taking the stream out of the blocking
//	protocol decoder's hands.
func (c *Channel) PollReady(timeout time.Duration) (bool, error) {
	if len(c.peeked) > 0 {
		return true, nil
	}
	dl, ok := c.conn.(Deadliner)
	if !ok {
		return false, ErrNotPollable
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	if err := dl.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	defer dl.SetReadDeadline(time.Time{})

	var b [1]byte
	n, err := c.conn.Read(b[:])
	if n > 0 {
		c.peeked = append(c.peeked, b[:n]...)
		return true, nil
	}
	if isTimeout(err) {
		return false, nil
	}
	return false, err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

//	peekReader prepends buffered, already-read-off-the-wire bytes ahead
//	of the live conn, so a byte consumed by PollReady is not lost to
//	the protocol decoder that reads next.
type peekReader struct {
	peeked []byte
	conn   io.Reader
}

func (p *peekReader) Read(b []byte) (int, error) {
	if len(p.peeked) > 0 {
		n := copy(b, p.peeked)
		p.peeked = p.peeked[n:]
		return n, nil
	}
	return p.conn.Read(b)
}

//	readerFor returns the io.Reader a Send/Recv cycle should read from:
//	the raw conn normally, or a peekReader when PollReady has buffered
//	a byte that must be consumed first.
func (c *Channel) readerFor() io.Reader {
	if len(c.peeked) == 0 {
		return c.conn
	}
	r := &peekReader{peeked: c.peeked, conn: c.conn}
	c.peeked = nil
	return r
}
