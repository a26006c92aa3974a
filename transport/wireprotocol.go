package transport

import (
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

func init() {
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

//	wireMessage mirrors channel's test-only wireMessage shadow — kept
//	as a private duplicate rather than exported from channel, since
//	Message's fields are intentionally unexported everywhere outside
//	the commcore package itself.
type wireMessage struct {
	ID           int64
	Operation    string
	ResourcePath string
	Value        commcore.Value
	Fault        *commcore.Fault
}

//	WireProtocol is the Communication Core's bundled, minimal Protocol
//	implementation (spec.md §1 puts protocol-codec bit layouts out of
//	scope beyond the TLS framing example; this is the one concrete
//	codec shipped so cmd/commcored has something runnable to demonstrate
//	with — production deployments are expected to supply a real codec,
//	e.g. SOAP or JSON-RPC, through the Protocol SPI instead).
type WireProtocol struct{}

func (WireProtocol) IsThreadSafe() bool { return false }

func (WireProtocol) Send(out io.Writer, msg commcore.Message, _ io.Reader) error {
	wm := wireMessage{
		ID:           msg.ID(),
		Operation:    msg.Operation(),
		ResourcePath: msg.ResourcePath(),
		Value:        msg.Value(),
	}
	if msg.IsFault() {
		wm.Fault = msg.Fault()
	}

	var body countingBuffer
	if err := gob.NewEncoder(&body).Encode(wm); err != nil {
		return err
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body.data)))
	if _, err := out.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := out.Write(body.data)
	return err
}

func (WireProtocol) Recv(in io.Reader, _ io.Writer) (commcore.Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(in, lenPrefix[:]); err != nil {
		return commcore.Message{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(in, body); err != nil {
		return commcore.Message{}, err
	}

	var wm wireMessage
	if err := gob.NewDecoder(&countingBuffer{data: body}).Decode(&wm); err != nil {
		return commcore.Message{}, err
	}

	if wm.Fault != nil {
		return commcore.NewFaultMessage(wm.ID, *wm.Fault), nil
	}
	return commcore.NewMessageWithID(wm.ID, wm.Operation, wm.ResourcePath, wm.Value), nil
}

var _ channel.Protocol = WireProtocol{}

type countingBuffer struct {
	data []byte
	pos  int
}

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *countingBuffer) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
