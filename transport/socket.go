// Package transport provides the built-in communication media named in
// spec.md §6: a TCP/Unix socket output port backed by channel.Pool, and
// a pubsub (SQS) transport for media with no blocking-read/readiness
// primitive at all.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strings"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
	"github.com/kryptco/commcore/tlswrap"
)

//	SocketPort is the built-in "socket" output port (spec.md §6): it
//	opens (or reuses a pooled) TCP or Unix connection to one location
//	and wraps it in a Channel using the configured protocol codec.
//	Grounded on the teacher's DaemonDial/socket.go dial-with-restart
//	family, simplified to the two net.Dial networks spec.md names.
type SocketPort struct {
	Location   string // "tcp://host:port" or "unix:///path/to.sock"
	Protocol   channel.Protocol
	ProtoName  string
	ThreadSafe bool

	pool  *channel.Pool
	interp commcore.Interpreter
}

//	NewSocketPort builds an output port bound to one (location,
//	protocol) pair, with its own Channel Pool so repeated OpenChannel
//	calls benefit from persistent-connection reuse (spec.md §4.1).
func NewSocketPort(location string, protocol channel.Protocol, protoName string, threadSafe bool, interp commcore.Interpreter) *SocketPort {
	return &SocketPort{
		Location:   location,
		Protocol:   protocol,
		ProtoName:  protoName,
		ThreadSafe: threadSafe,
		pool:       channel.NewPool(),
		interp:     interp,
	}
}

func splitScheme(location string) (network, address string, ok bool) {
	parts := strings.SplitN(location, "://", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

//	dial opens a fresh net.Conn for p.Location, mapping its scheme to a
//	net.Dial network the way spec.md §6's createChannel does for the
//	built-in socket medium.
func (p *SocketPort) dial() (net.Conn, error) {
	network, address, ok := splitScheme(p.Location)
	if !ok {
		return nil, &commcore.UnsupportedCommMedium{Scheme: p.Location}
	}
	switch network {
	case "tcp", "tcp4", "tcp6":
		return net.Dial(network, address)
	case "unix":
		return net.Dial("unix", address)
	default:
		return nil, &commcore.UnsupportedCommMedium{Scheme: network}
	}
}

//	OpenChannel implements dispatch.OutputPort: acquire from the pool
//	if a persistent connection is cached, otherwise dial fresh
//	(spec.md §4.1 acquire / §6 createChannel).
func (p *SocketPort) OpenChannel() (*channel.Channel, error) {
	return p.pool.Acquire(p.Location, p.ProtoName, p.ThreadSafe, func() (*channel.Channel, error) {
		conn, err := p.dial()
		if err != nil {
			return nil, commcore.NewIOException(err)
		}
		ch := channel.New(p.Location, p.ProtoName, p.Protocol, conn, p.ThreadSafe)
		return ch, nil
	})
}

//	Release returns ch to the pool's persistent cache instead of
//	closing it, when the caller knows it may be reused (spec.md §4.1
//	"Policy": callers opt in to retention, the pool never assumes it).
func (p *SocketPort) Release(ch *channel.Channel) {
	p.pool.PutPersistent(p.Location, p.ProtoName, ch, p.interp)
}

//	Listener is the inbound half of the socket medium: spec.md §6's
//	"accept a connection, build a Channel, register it" loop, grounded
//	on the teacher's DaemonListen/AgentListen (socket.go, socket_linux.go)
//	generalized from a fixed krd.sock path to an arbitrary location.
type Listener struct {
	net.Listener

	Protocol   channel.Protocol
	ProtoName  string
	ThreadSafe bool

	//	TLSConfig, when non-nil, runs every accepted connection through
	//	the TLS Wrapper Protocol's server handshake (tlswrap.Wrap) before
	//	it is handed to the Selector Array — spec.md §6's "tls" medium
	//	layered under the socket medium rather than replacing it.
	TLSConfig *tls.Config
}

//	Listen opens network/address (e.g. "tcp", ":7000" or "unix",
//	"/run/commcore.sock") and wraps it for Accept.
func Listen(network, address string, protocol channel.Protocol, protoName string, threadSafe bool) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, commcore.NewIOException(err)
	}
	return &Listener{Listener: ln, Protocol: protocol, ProtoName: protoName, ThreadSafe: threadSafe}, nil
}

//	AcceptChannel blocks for one inbound connection, runs the TLS
//	handshake when l.TLSConfig is set, and wraps the result as a fresh
//	Channel, leaving registration with the Selector Array or Polling
//	Loop to the caller (the lifecycle package's accept loop).
func (l *Listener) AcceptChannel() (*channel.Channel, error) {
	conn, err := l.Accept()
	if err != nil {
		return nil, commcore.NewIOException(err)
	}

	var cc channel.Conn = conn
	if l.TLSConfig != nil {
		wrapped, err := tlswrap.Wrap(context.Background(), conn, l.TLSConfig, true)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		cc = wrapped
	}

	return channel.New(l.Addr().String(), l.ProtoName, l.Protocol, cc, l.ThreadSafe), nil
}
