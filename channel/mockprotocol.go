package channel

import (
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/kryptco/commcore"
)

func init() {
	// Value is interface{}; gob needs concrete dynamic types registered
	// up front. Tests exercising MockProtocol stick to these.
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

//	wireMessage is the gob-encodable shadow of commcore.Message: the
//	real type keeps its fields unexported, so MockProtocol round-trips
//	through the constructors instead of reflecting into it.
type wireMessage struct {
	ID           int64
	Operation    string
	ResourcePath string
	Value        commcore.Value
	Fault        *commcore.Fault
}

//	MockProtocol is a length-prefixed gob codec satisfying Protocol,
//	used by tests in place of a real wire format (SOAP, JSON-RPC, ...).
//	It is single-threaded per direction, matching IsThreadSafe() below.
type MockProtocol struct{}

func (MockProtocol) IsThreadSafe() bool { return false }

func (MockProtocol) Send(out io.Writer, msg commcore.Message, _ io.Reader) error {
	wm := wireMessage{
		ID:           msg.ID(),
		Operation:    msg.Operation(),
		ResourcePath: msg.ResourcePath(),
		Value:        msg.Value(),
	}
	if msg.IsFault() {
		wm.Fault = msg.Fault()
	}

	buf := &lengthBuffer{}
	if err := gob.NewEncoder(buf).Encode(wm); err != nil {
		return err
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf.data)))
	if _, err := out.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := out.Write(buf.data)
	return err
}

func (MockProtocol) Recv(in io.Reader, _ io.Writer) (commcore.Message, error) {
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
	if err := gob.NewDecoder(&lengthBuffer{data: body}).Decode(&wm); err != nil {
		return commcore.Message{}, err
	}

	if wm.Fault != nil {
		return commcore.NewFaultMessage(wm.ID, *wm.Fault), nil
	}
	return commcore.NewMessageWithID(wm.ID, wm.Operation, wm.ResourcePath, wm.Value), nil
}

var _ Protocol = MockProtocol{}

//	lengthBuffer is a trivial io.Reader/io.Writer over a byte slice,
//	avoiding a bytes.Buffer import just to feed gob a fixed-size body.
type lengthBuffer struct {
	data []byte
	pos  int
}

func (b *lengthBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *lengthBuffer) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
