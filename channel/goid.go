package channel

import (
	"bytes"
	"runtime"
	"strconv"
)

//	goid returns the calling goroutine's id. It is used only to make
//	Channel's mutex re-entrant (spec.md §3: "re-entrant mutex") the way
//	a Java intrinsic lock is: the same goroutine that already holds a
//	channel's lock may lock it again (e.g. a handler that sends, then
//	blocks in recvResponseFor on the same channel) without deadlocking.
//	Parsing runtime.Stack for this is a well-worn, if inelegant, Go
//	idiom for goroutine-local identity; there is no stdlib accessor.
func goid() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
