package channel

import (
	"io"
	"sync/atomic"

	uuid "github.com/satori/go.uuid"

	"github.com/kryptco/commcore"
)

//	State is one of the three states a Channel moves through (spec.md
//	§3). It only ever moves forward: OPEN -> CLOSING -> CLOSED.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

//	MessagePool is the slice of the Message Pool (spec.md §4.2) a
//	Channel needs to implement recvResponseFor directly, as the Channel
//	SPI (spec.md §6) requires. Defined here, at the point of use, so
//	package correlate can depend on package channel without a cycle.
type MessagePool interface {
	RegisterSynchronous(ch *Channel, request commcore.Message)
	RecvResponseFor(ch *Channel, request commcore.Message) (commcore.Message, error)
}

//	Conn is the minimal transport surface a Channel needs: a byte
//	stream. A *net.TCPConn/*net.UnixConn/*tls.Conn all satisfy this
//	directly. There is no blocking/non-blocking flip; the Selector
//	Array learns readiness through read deadlines instead, on Conns
//	that also implement Deadliner (see readiness.go).
type Conn interface {
	io.ReadWriteCloser
}

//	Channel is one bidirectional communication endpoint (spec.md §3,
//	§6). Its zero value is not usable; construct with New.
type Channel struct {
	id           uuid.UUID
	location     string
	protocolName string
	protocol     Protocol
	conn         Conn
	threadSafe   bool

	mu    ReentrantMutex
	state int32 // atomic State

	redirPartner   *Channel
	redirMessageID int64

	timeoutHandler      commcore.TimeoutHandle
	timeoutHandlerEpoch int64 // bumped on SetTimeoutHandler/ClearTimeoutHandler so a racing fire is a no-op

	toBeClosed int32 // atomic bool

	peeked []byte // buffered byte consumed by PollReady, not yet handed to Recv

	pool MessagePool

	//	Owner is the parent input port (server-side) or output port
	//	(client-side) that created this channel, opaque to package
	//	channel to avoid an import cycle with package dispatch. Callers
	//	type-assert it to their own port type.
	Owner interface{}

	//	SelectorIndex is the Selector Array shard this channel is
	//	currently registered with, or -1 if unregistered (spec.md §3
	//	"Selector Membership"). Owned by package reactor; exported so
	//	reactor doesn't need a side table keyed by channel identity.
	SelectorIndex int32
}

//	New constructs an OPEN channel bound to conn, location and a named
//	protocol. threadSafe mirrors protocol.IsThreadSafe() in the common
//	case but is taken explicitly since some transports force
//	single-use regardless of protocol capability.
func New(location, protocolName string, protocol Protocol, conn Conn, threadSafe bool) *Channel {
	return &Channel{
		id:             uuid.NewV4(),
		location:       location,
		protocolName:   protocolName,
		protocol:       protocol,
		conn:           conn,
		threadSafe:     threadSafe,
		state:          int32(StateOpen),
		SelectorIndex:  -1,
		redirMessageID: -1,
	}
}

func (c *Channel) ID() uuid.UUID        { return c.id }
func (c *Channel) Location() string     { return c.location }
func (c *Channel) ProtocolName() string { return c.protocolName }
func (c *Channel) Protocol() Protocol   { return c.protocol }
func (c *Channel) Conn() Conn           { return c.conn }
func (c *Channel) IsThreadSafe() bool   { return c.threadSafe }

func (c *Channel) State() State { return State(atomic.LoadInt32(&c.state)) }
func (c *Channel) IsOpen() bool { return c.State() == StateOpen }

//	Lock/Unlock/TryLock implement the re-entrant channel mutex invariant
//	of spec.md §3: "while a handler holds the mutex, no other handler
//	may send or receive on the channel."
func (c *Channel) Lock()         { c.mu.Lock() }
func (c *Channel) Unlock()       { c.mu.Unlock() }
func (c *Channel) TryLock() bool { return c.mu.TryLock() }

//	SetMessagePool wires the Message Pool this channel delegates
//	RecvResponseFor to. Called once by whichever factory built the
//	channel (client channel construction, or a forwarder in the
//	Dispatcher's redirection path).
func (c *Channel) SetMessagePool(p MessagePool) { c.pool = p }

//	Send encodes and writes one message. The caller must hold the
//	channel lock (spec.md §5 "channel mutex serialises decoders").
func (c *Channel) Send(msg commcore.Message) error {
	if err := c.protocol.Send(c.conn, msg, c.conn); err != nil {
		c.closeOnError()
		return commcore.NewIOException(err)
	}
	return nil
}

//	Recv decodes exactly one message. The caller must hold the channel
//	lock.
func (c *Channel) Recv() (commcore.Message, error) {
	msg, err := c.protocol.Recv(c.readerFor(), c.conn)
	if err != nil {
		c.closeOnError()
		return commcore.Message{}, commcore.NewIOException(err)
	}
	return msg, nil
}

//	RecvResponseFor blocks until the paired response to request
//	arrives, delegating to the Message Pool (spec.md §4.2). It does not
//	register request itself: the request must already be registered
//	with the pool, or a CorrelationError is returned.
//	The channel lock must be held across Send and RecvResponseFor for a
//	non-thread-safe channel to preserve request/response pairing
//	(spec.md §5).
func (c *Channel) RecvResponseFor(request commcore.Message) (commcore.Message, error) {
	if c.pool == nil {
		return commcore.Message{}, &commcore.CorrelationError{MessageID: request.ID()}
	}
	return c.pool.RecvResponseFor(c, request)
}

//	SetRedirectionChannel marks this channel as a forwarder: a
//	temporary outbound channel carrying one redirected request/response
//	pair, paired with the original inbound channel it will write the
//	rewritten response back to (spec.md §3, §4.6 rule 1).
func (c *Channel) SetRedirectionChannel(partner *Channel, messageID int64) {
	c.redirPartner = partner
	c.redirMessageID = messageID
}

func (c *Channel) RedirectionPartner() *Channel { return c.redirPartner }
func (c *Channel) RedirectionMessageID() int64   { return c.redirMessageID }
func (c *Channel) IsForwarder() bool             { return c.redirPartner != nil }

//	SetTimeoutHandler installs h as the channel's active eviction
//	timer, replacing (and leaving canceled) any previous one. Pool
//	eviction (spec.md §4.1) clears this on checkout by calling
//	ClearTimeoutHandler.
func (c *Channel) SetTimeoutHandler(h commcore.TimeoutHandle) {
	if c.timeoutHandler != nil {
		c.timeoutHandler.Cancel()
	}
	c.timeoutHandler = h
	atomic.AddInt64(&c.timeoutHandlerEpoch, 1)
}

//	ClearTimeoutHandler cancels and forgets the channel's active
//	timeout handler, returning whether one was installed. Used by
//	getPersistent on successful checkout: a checked-out channel is no
//	longer evictable by time (spec.md §4.1 step 2).
func (c *Channel) ClearTimeoutHandler() (hadOne bool) {
	if c.timeoutHandler == nil {
		return false
	}
	c.timeoutHandler.Cancel()
	c.timeoutHandler = nil
	atomic.AddInt64(&c.timeoutHandlerEpoch, 1)
	return true
}

//	TimeoutEpoch returns a counter bumped every time the active timeout
//	handler changes, so a fired handler can check "am I still the
//	active handler" (spec.md §4.1 putPersistent: "if the handler is
//	still the channel's active handler, evict... and close").
func (c *Channel) TimeoutEpoch() int64 {
	return atomic.LoadInt64(&c.timeoutHandlerEpoch)
}

//	MarkToBeClosed sets the to-be-closed flag (spec.md §3: "must be
//	closed after the current operation completes").
func (c *Channel) MarkToBeClosed() {
	atomic.StoreInt32(&c.toBeClosed, 1)
}

func (c *Channel) ToBeClosed() bool {
	return atomic.LoadInt32(&c.toBeClosed) != 0
}

//	Close transitions the channel to CLOSED and closes the underlying
//	transport. Closing an already-closed or already-closing channel is
//	a no-op, matching spec.md §7's ChannelClosing ("benign race during
//	close; logged at FINE, not fatal") — callers that need to observe
//	the race should compare the return value instead of treating every
//	call as authoritative.
func (c *Channel) Close() error {
	old := atomic.SwapInt32(&c.state, int32(StateClosed))
	if old == int32(StateClosed) {
		return &commcore.ChannelClosing{}
	}
	if c.timeoutHandler != nil {
		c.timeoutHandler.Cancel()
	}
	return c.conn.Close()
}

func (c *Channel) closeOnError() {
	if c.IsOpen() {
		_ = c.Close()
	}
}

//	DisposeForInput decides what happens to a channel after a handler
//	has finished reading and dispatching one message, per spec.md §4.5
//	step 3/6: either it goes back to the reactor for its next message,
//	or — if it is marked to-be-closed, or the transport reported
//	closed — it is closed. register is the Selector Array's Register
//	func, injected to avoid an import cycle between channel and
//	reactor.
func (c *Channel) DisposeForInput(register func(*Channel)) {
	if c.ToBeClosed() || !c.IsOpen() {
		_ = c.Close()
		return
	}
	if register != nil {
		register(c)
	}
}
