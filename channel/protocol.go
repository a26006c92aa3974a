package channel

import (
	"io"

	"github.com/kryptco/commcore"
)

//	Protocol is the application-protocol SPI (spec.md §6): it decodes
//	and encodes exactly one Message per call against a channel's
//	underlying byte stream. Concrete codecs (HTTP, CoAP, SOAP) are out
//	of scope per spec.md §1; the one concrete Protocol this module
//	ships is transport.WireProtocol (MockProtocol is its test double).
//	The TLS Wrapper (package tlswrap) is not a Protocol: it wraps the
//	Conn underneath one.
type Protocol interface {
	//	Send encodes msg and writes it to out. in is passed through so a
	//	protocol that needs to read an immediate acknowledgement inline
	//	(rare, but some codecs are not pure request/response) can do so
	//	without a second round trip through the Channel.
	Send(out io.Writer, msg commcore.Message, in io.Reader) error

	//	Recv decodes exactly one Message from in. Implementations must
	//	return (zero Message, nil) only for protocols with an explicit
	//	"no message" framing (e.g. a probe); returning io.EOF or another
	//	error is how end-of-stream and malformed framing are reported.
	Recv(in io.Reader, out io.Writer) (commcore.Message, error)

	//	IsThreadSafe reports whether concurrent callers may safely Send
	//	and Recv on independent goroutines against channels using this
	//	protocol. A thread-safe protocol selects the Message Pool's
	//	asynchronous correlation path; a non-thread-safe one selects the
	//	synchronous path (spec.md §4.2).
	IsThreadSafe() bool
}
