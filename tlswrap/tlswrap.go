// Package tlswrap implements the TLS Wrapper Protocol (C8, spec.md
// §4.7): a channel.Conn decorator that performs a TLS handshake before
// any Channel ever sees plaintext, so the inner Protocol codec never
// touches ciphertext. Grounded on the teacher's sodiumBoxSeal/Open
// framing (krypto.go) for the "wrap inner bytes, never let the inner
// protocol see ciphertext" discipline, upgraded from the teacher's NaCl
// box scheme to crypto/tls (see DESIGN.md C8 entry for why).
package tlswrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/blang/semver"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

//	DefaultMinVersion rejects spec.md §6's historical SSLv3 default:
//	crypto/tls does not implement SSLv3 at all, so the safe floor is
//	TLS 1.2 (spec.md §9 Open Question 2 decision).
const DefaultMinVersion = tls.VersionTLS12

//	Wrap performs the handshake half of spec.md §4.7's NEED_TASK /
//	NEED_WRAP / NEED_UNWRAP state machine. crypto/tls already drives
//	that state machine internally on HandshakeContext; this function is
//	the seam the Communication Core calls into before registering a
//	channel, not a reimplementation of TLS's own record layer.
func Wrap(ctx context.Context, conn channel.Conn, cfg *tls.Config, isServer bool) (*WrappedConn, error) {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = DefaultMinVersion
	}

	nc, ok := conn.(net.Conn)
	if !ok {
		return nil, commcore.NewIOException(fmt.Errorf("tlswrap: underlying conn is not a net.Conn (crypto/tls requires one)"))
	}

	var tlsConn *tls.Conn
	if isServer {
		tlsConn = tls.Server(nc, cfg)
	} else {
		tlsConn = tls.Client(nc, cfg)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, commcore.NewIOException(err)
	}

	version, _ := semverForTLSVersion(tlsConn.ConnectionState().Version)
	return &WrappedConn{Conn: tlsConn, negotiated: version}, nil
}

//	WrappedConn is a *tls.Conn that also satisfies channel.Conn and
//	channel.Deadliner (tls.Conn forwards SetReadDeadline to the
//	underlying net.Conn), so a TLS-wrapped channel still participates
//	in the Selector Array's readiness probe (spec.md §4.4, §4.7).
type WrappedConn struct {
	*tls.Conn
	negotiated semver.Version
}

//	NegotiatedVersion surfaces the handshake's chosen protocol version
//	as a semver.Version for admin-status reporting (spec.md §4.7
//	"report the negotiated version").
func (w *WrappedConn) NegotiatedVersion() semver.Version { return w.negotiated }

var _ channel.Conn = (*WrappedConn)(nil)
var _ channel.Deadliner = (*WrappedConn)(nil)

func semverForTLSVersion(v uint16) (semver.Version, error) {
	switch v {
	case tls.VersionTLS12:
		return semver.Version{Major: 1, Minor: 2}, nil
	case tls.VersionTLS13:
		return semver.Version{Major: 1, Minor: 3}, nil
	default:
		return semver.Version{}, fmt.Errorf("tlswrap: unrecognized TLS version 0x%x", v)
	}
}
