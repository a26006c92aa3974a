// Package reactor implements the Selector Array (C5) and the Polling
// Loop (C9): the two ways a registered Channel's next inbound message
// gets detected and handed to the Handler Executor.
package reactor

import (
	"sync"
	"time"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

//	HandoffFunc is how a ready channel is handed to the Handler
//	Executor (spec.md §4.4 step 3b, "scheduleReceive"). Taken as a
//	plain func rather than an interface so package reactor never
//	imports package dispatch — dispatch imports reactor instead.
//
//	HandoffFunc may return before the handler has actually run — the
//	production wiring submits the handler to the Handler Executor's
//	goroutine pool and returns immediately. The channel lock held on
//	entry to runReadyBatch/sweep is released by the caller as soon as
//	handoff has been invoked, not after it completes; the handler
//	itself (dispatch.Dispatcher.HandleReady) re-acquires the lock as
//	its own first step (spec.md §4.5 step 1).
type HandoffFunc func(ch *channel.Channel)

//	Selector is one shard of the Selector Array: it owns a set of
//	registered channels and a single goroutine running the per-reactor
//	loop of spec.md §4.4.
type Selector struct {
	index int

	selectingMu sync.Mutex // spec.md's "selecting-mutex"
	registered  map[*channel.Channel]struct{}

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	pollTick time.Duration
	handoff  HandoffFunc
	interp   commcore.Interpreter
}

//	newSelector builds one shard. pollTick is the granularity of the
//	select() step below — real OS selectors block until a descriptor is
//	ready; net.Conn gives no such primitive, so the loop instead wakes
//	every pollTick and checks each registered channel's readiness via
//	Channel.PollReady (see DESIGN.md Open Question 4).
func newSelector(index int, pollTick time.Duration, handoff HandoffFunc, interp commcore.Interpreter) *Selector {
	return &Selector{
		index:      index,
		registered: make(map[*channel.Channel]struct{}),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		pollTick:   pollTick,
		handoff:    handoff,
		interp:     interp,
	}
}

//	Register attaches ch to this shard for read-readiness (spec.md
//	§4.4 "register"). If ch already has buffered data waiting (a zero-
//	timeout PollReady succeeds immediately), it bypasses registration
//	entirely and is handed straight to the executor, matching "If the
//	channel's transport already has buffered data available, bypass
//	registration and hand it directly to the executor."
func (s *Selector) Register(ch *channel.Channel) {
	if ready, err := ch.PollReady(0); err == nil && ready {
		s.handoff(ch)
		return
	}

	s.selectingMu.Lock()
	s.registered[ch] = struct{}{}
	ch.SelectorIndex = int32(s.index)
	s.selectingMu.Unlock()
	s.wakeUp()
}

//	Unregister cancels ch's registration on this shard (spec.md §4.4
//	"unregister").
func (s *Selector) Unregister(ch *channel.Channel) {
	s.selectingMu.Lock()
	delete(s.registered, ch)
	if ch.SelectorIndex == int32(s.index) {
		ch.SelectorIndex = -1
	}
	s.selectingMu.Unlock()
	s.wakeUp()
}

func (s *Selector) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

//	Start runs the per-reactor loop (spec.md §4.4 steps 1-5) until
//	Stop is called.
func (s *Selector) Start() {
	go s.loop()
}

//	Stop ends the loop and waits for it to exit.
func (s *Selector) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Selector) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		ready := s.selectOnce(s.pollTick)
		for len(ready) > 0 {
			s.runReadyBatch(ready)
			// step 4: selectNow drains any newly-ready keys before
			// releasing control back to the blocking select above.
			ready = s.selectOnce(0)
		}
	}
}

//	selectOnce is spec.md §4.4 step 1's select(): it snapshots the
//	registered set under the selecting-mutex (step 2) and probes each
//	member for readiness for up to timeout. A zero timeout is
//	"selectNow" (step 4): a single pass that waits at most a
//	millisecond per member (see Channel.PollReady).
func (s *Selector) selectOnce(timeout time.Duration) []*channel.Channel {
	s.selectingMu.Lock()
	members := make([]*channel.Channel, 0, len(s.registered))
	for ch := range s.registered {
		members = append(members, ch)
	}
	s.selectingMu.Unlock()

	if len(members) == 0 {
		if timeout > 0 {
			select {
			case <-s.wake:
			case <-s.stop:
			case <-time.After(timeout):
			}
		}
		return nil
	}

	perMember := timeout
	if len(members) > 0 && timeout > 0 {
		perMember = timeout / time.Duration(len(members))
		if perMember <= 0 {
			perMember = time.Millisecond
		}
	}

	var ready []*channel.Channel
	for _, ch := range members {
		ok, err := ch.PollReady(perMember)
		if err != nil {
			// Treat an unpollable or failing channel as ready and let
			// the handler's Recv deal with it: an unpollable channel is
			// read with an ordinary blocking Recv, and a failing one
			// errors there and is closed (spec.md §4.5 step 5).
			ready = append(ready, ch)
			continue
		}
		if ok {
			ready = append(ready, ch)
		}
	}
	return ready
}

//	runReadyBatch implements spec.md §4.4 step 3: for each ready key,
//	try to non-blockingly lock it; on success cancel its registration
//	and enqueue the handoff task, otherwise leave it pending for the
//	next select. Per spec.md §4.4 step 3b, the task "releases the
//	channel lock on all exit paths" itself — it does not hold the lock
//	open across the handoff, since the handoff may just be a submission
//	to an asynchronous executor (see HandoffFunc).
func (s *Selector) runReadyBatch(ready []*channel.Channel) {
	var tasks []func()
	for _, ch := range ready {
		if !ch.TryLock() {
			continue // still in use; re-fires on next select
		}
		s.selectingMu.Lock()
		delete(s.registered, ch)
		s.selectingMu.Unlock()

		ch := ch
		tasks = append(tasks, func() {
			if !ch.IsOpen() {
				ch.Unlock()
				return
			}
			s.handoff(ch)
			ch.Unlock()
		})
	}

	// step 5: tasks run outside the selecting-mutex.
	for _, task := range tasks {
		task()
	}
}
