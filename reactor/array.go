package reactor

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

//	DefaultPollTick is how often an idle shard's select() step wakes to
//	re-probe registered channels, in the absence of an explicit wake
//	(spec.md §4.4 describes a true blocking select(); this is this
//	module's net.Conn-based realization of it — see DESIGN.md Open
//	Question 4).
const DefaultPollTick = 10 * time.Millisecond

//	Array is the Selector Array (C5): N reactors, assigned to
//	round-robin by an atomic counter (spec.md §4.4).
type Array struct {
	shards  []*Selector
	counter uint64
}

//	NewArray builds N shards (N = runtime.NumCPU() if n <= 0) and wires
//	each to call handoff when one of its channels becomes ready.
func NewArray(n int, handoff HandoffFunc, interp commcore.Interpreter) *Array {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	shards := make([]*Selector, n)
	for i := range shards {
		shards[i] = newSelector(i, DefaultPollTick, handoff, interp)
	}
	return &Array{shards: shards}
}

//	Start launches every shard's reactor loop.
func (a *Array) Start() {
	for _, s := range a.shards {
		s.Start()
	}
}

//	Stop halts every shard's reactor loop and waits for them to exit.
func (a *Array) Stop() {
	for _, s := range a.shards {
		s.Stop()
	}
}

//	Register assigns ch to the next shard in round-robin order
//	(spec.md §4.4: "assignment = nextSelectorCounter.fetchAndIncrement()
//	mod N") and registers it there.
func (a *Array) Register(ch *channel.Channel) {
	n := uint64(len(a.shards))
	idx := atomic.AddUint64(&a.counter, 1) % n
	a.shards[idx].Register(ch)
}

//	Unregister removes ch from whichever shard it is currently
//	registered with, a no-op if it is registered with none.
func (a *Array) Unregister(ch *channel.Channel) {
	idx := ch.SelectorIndex
	if idx < 0 || int(idx) >= len(a.shards) {
		return
	}
	a.shards[idx].Unregister(ch)
}

//	Len returns the number of shards, for tests and the admin status
//	surface.
func (a *Array) Len() int { return len(a.shards) }
