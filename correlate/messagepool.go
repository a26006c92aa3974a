// Package correlate implements the Message Pool (C3) and Thread
// Registry (C4): pairing requests with responses that may arrive on a
// different goroutine than the one that sent the request, and
// restoring the originating execution context once they do.
package correlate

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

//	syncEntry is one outstanding synchronous request: the same channel
//	will carry its response, so it is keyed by channel identity rather
//	than message id.
type syncEntry struct {
	mu       sync.Mutex
	cond     *sync.Cond
	request  commcore.Message
	response commcore.Message
	done     bool
}

func newSyncEntry(request commcore.Message) *syncEntry {
	e := &syncEntry{request: request}
	e.cond = sync.NewCond(&e.mu)
	return e
}

//	asyncEntry is one outstanding asynchronous request, keyed by message
//	id: request and response may travel on different multiplexed,
//	thread-safe channels. ackExtended guards the one-time timeout nudge
//	described in SPEC_FULL.md §C ("acknowledgement delay window").
type asyncEntry struct {
	mu            sync.Mutex
	cond          *sync.Cond
	operationName string
	response      commcore.Message
	done          bool
	timeoutHandle commcore.TimeoutHandle
	ackExtended   bool
}

func newAsyncEntry(operationName string) *asyncEntry {
	e := &asyncEntry{operationName: operationName}
	e.cond = sync.NewCond(&e.mu)
	return e
}

//	MessagePool implements channel.MessagePool and the full Message
//	Pool contract of spec.md §4.2: registerSynchronous,
//	registerAsynchronous, receiveResponse, recvResponseFor,
//	retrieveSynchronousRequest, retrieveAsynchronousRequest.
type MessagePool struct {
	syncMu      sync.Mutex
	syncEntries map[*channel.Channel]*syncEntry

	asyncMu      sync.Mutex
	asyncEntries *lru.Cache // int64 -> *asyncEntry
}

//	NewMessagePool builds a Message Pool whose asynchronous table holds
//	at most asyncCapacity pending correlations (mirrors the teacher's
//	requestCallbacksByRequestID LRU sizing).
func NewMessagePool(asyncCapacity int) *MessagePool {
	cache, err := lru.New(asyncCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, so a
		// non-positive asyncCapacity panics here.
		panic(err)
	}
	return &MessagePool{
		syncEntries:  make(map[*channel.Channel]*syncEntry),
		asyncEntries: cache,
	}
}

//	RegisterSynchronous records request as pending on ch's non-thread-safe
//	channel (spec.md §4.2).
func (p *MessagePool) RegisterSynchronous(ch *channel.Channel, request commcore.Message) {
	p.syncMu.Lock()
	p.syncEntries[ch] = newSyncEntry(request)
	p.syncMu.Unlock()
}

//	RegisterAsynchronous records a pending asynchronous correlation for
//	id, optionally scheduling its expiry through interp. Pass a nil
//	interp (and zero timeout) to register without an expiry, e.g. in
//	tests.
func (p *MessagePool) RegisterAsynchronous(id int64, operationName string, interp commcore.Interpreter, timeout time.Duration) {
	e := newAsyncEntry(operationName)
	if interp != nil && timeout > 0 {
		e.timeoutHandle = interp.AddTimeoutHandler(timeout, func() { p.expireAsync(id, e) })
	}
	p.asyncMu.Lock()
	p.asyncEntries.Add(id, e)
	p.asyncMu.Unlock()
}

func (p *MessagePool) expireAsync(id int64, e *asyncEntry) {
	p.asyncMu.Lock()
	v, ok := p.asyncEntries.Peek(id)
	stillPending := ok && v.(*asyncEntry) == e
	if stillPending {
		p.asyncEntries.Remove(id)
	}
	p.asyncMu.Unlock()

	if !stillPending {
		return
	}
	e.mu.Lock()
	if !e.done {
		e.done = true
		e.response = commcore.NewFaultMessage(id, commcore.Fault{
			Name:    "CorrelationError",
			Message: "asynchronous request timed out awaiting response",
		})
		e.cond.Broadcast()
	}
	e.mu.Unlock()
}

//	AckAsynchronous extends a pending asynchronous correlation's expiry
//	once by extension, modelling an acknowledgement that buys the real
//	response more time without re-registering the request
//	(SPEC_FULL.md §C). Returns false if id has no pending registration
//	or has already been nudged once.
func (p *MessagePool) AckAsynchronous(id int64, interp commcore.Interpreter, extension time.Duration) bool {
	p.asyncMu.Lock()
	v, ok := p.asyncEntries.Get(id)
	p.asyncMu.Unlock()
	if !ok {
		return false
	}
	e := v.(*asyncEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || e.ackExtended {
		return false
	}
	e.ackExtended = true
	if e.timeoutHandle != nil {
		e.timeoutHandle.Cancel()
	}
	if interp != nil && extension > 0 {
		e.timeoutHandle = interp.AddTimeoutHandler(extension, func() { p.expireAsync(id, e) })
	}
	return true
}

//	ReceiveResponse delivers msg as the response to whichever pending
//	registration matches, trying the synchronous table for ch first
//	(the common case: a response decoded on the same channel that sent
//	the request) and falling back to the asynchronous, id-keyed table.
//	Returns false if nothing matched, in which case spec.md §4.2
//	requires the caller to log and discard msg.
func (p *MessagePool) ReceiveResponse(ch *channel.Channel, msg commcore.Message) bool {
	p.syncMu.Lock()
	se, ok := p.syncEntries[ch]
	p.syncMu.Unlock()
	if ok && se.request.ID() == msg.ID() {
		se.mu.Lock()
		se.response = msg
		se.done = true
		se.cond.Broadcast()
		se.mu.Unlock()
		return true
	}

	p.asyncMu.Lock()
	v, ok := p.asyncEntries.Get(msg.ID())
	p.asyncMu.Unlock()
	if !ok {
		return false
	}
	ae := v.(*asyncEntry)
	ae.mu.Lock()
	if !ae.done {
		ae.response = msg
		ae.done = true
		ae.cond.Broadcast()
	}
	ae.mu.Unlock()
	return true
}

//	RecvResponseFor implements channel.MessagePool: blocks until
//	request's response arrives, routing to the synchronous or
//	asynchronous path by ch.IsThreadSafe() (spec.md §4.2 — "asynchronous
//	path: used for thread-safe multiplexed channels").
func (p *MessagePool) RecvResponseFor(ch *channel.Channel, request commcore.Message) (commcore.Message, error) {
	if ch.IsThreadSafe() {
		return p.recvAsync(request.ID())
	}
	return p.recvSync(ch, request)
}

func (p *MessagePool) recvSync(ch *channel.Channel, request commcore.Message) (commcore.Message, error) {
	p.syncMu.Lock()
	e, ok := p.syncEntries[ch]
	p.syncMu.Unlock()
	if !ok || e.request.ID() != request.ID() {
		return commcore.Message{}, &commcore.CorrelationError{MessageID: request.ID()}
	}

	e.mu.Lock()
	for !e.done {
		e.cond.Wait()
	}
	resp := e.response
	e.mu.Unlock()

	p.syncMu.Lock()
	if cur, ok := p.syncEntries[ch]; ok && cur == e {
		delete(p.syncEntries, ch)
	}
	p.syncMu.Unlock()

	return resp, nil
}

func (p *MessagePool) recvAsync(id int64) (commcore.Message, error) {
	p.asyncMu.Lock()
	v, ok := p.asyncEntries.Peek(id)
	p.asyncMu.Unlock()
	if !ok {
		return commcore.Message{}, &commcore.CorrelationError{MessageID: id}
	}
	e := v.(*asyncEntry)

	e.mu.Lock()
	for !e.done {
		e.cond.Wait()
	}
	resp := e.response
	e.mu.Unlock()

	p.asyncMu.Lock()
	p.asyncEntries.Remove(id)
	p.asyncMu.Unlock()

	return resp, nil
}

//	RetrieveSynchronousRequest returns the request currently pending on
//	ch's synchronous registration, if any.
func (p *MessagePool) RetrieveSynchronousRequest(ch *channel.Channel) (commcore.Message, bool) {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()
	e, ok := p.syncEntries[ch]
	if !ok {
		return commcore.Message{}, false
	}
	return e.request, true
}

//	RetrieveAsynchronousRequest returns the operation name recorded
//	when id was registered, if its registration is still pending.
func (p *MessagePool) RetrieveAsynchronousRequest(id int64) (string, bool) {
	p.asyncMu.Lock()
	defer p.asyncMu.Unlock()
	v, ok := p.asyncEntries.Peek(id)
	if !ok {
		return "", false
	}
	return v.(*asyncEntry).operationName, true
}

var _ channel.MessagePool = (*MessagePool)(nil)
