package channel

import (
	"sync"

	metrics "github.com/armon/go-metrics"

	"github.com/kryptco/commcore"
)

//	poolKey identifies one slot of the Persistent-Channel Map (spec.md
//	§3): at most one cached channel per (location, protocol).
type poolKey struct {
	location string
	protocol string
}

//	Pool is the Channel Pool (spec.md §4.1, component C2). It is a hint
//	cache: correctness never depends on what it holds, only on it never
//	handing out a channel that is in use or closed.
type Pool struct {
	mu      sync.Mutex
	entries map[poolKey]*Channel
}

func NewPool() *Pool {
	return &Pool{entries: make(map[poolKey]*Channel)}
}

//	Factory builds a fresh channel for a location when the pool has
//	nothing cached, standing in for an output port's channel factory
//	(spec.md §6 createChannel) without package channel importing the
//	port type that would create a cycle.
type Factory func() (*Channel, error)

//	Acquire returns a cached channel for (location, protocol) if one is
//	idle and usable, otherwise builds a fresh one via create. This is
//	spec.md §4.1's acquire operation. Acquire does not use threadSafe:
//	a fresh channel carries whatever flag create gives it, and a cached
//	one its own.
func (p *Pool) Acquire(location, protocol string, threadSafe bool, create Factory) (*Channel, error) {
	if ch := p.GetPersistent(location, protocol); ch != nil {
		return ch, nil
	}
	return create()
}

//	Release hands a channel back to its caller's control. The pool
//	itself never tracks checked-out channels, so Release only unlocks;
//	callers that want the channel retained beyond this request must
//	call PutPersistent explicitly (spec.md §4.1 rationale: "the pool is
//	a hint cache").
func (p *Pool) Release(ch *Channel) {
	ch.Unlock()
}

//	PutPersistent caches ch under (location, protocol), installing a
//	timeout handler parameterised by interp's persistent-connection
//	timeout. Replacement overwrites without closing the prior entry —
//	a caller still holding that reference continues to own it (spec.md
//	§4.1 "Policy").
func (p *Pool) PutPersistent(location, protocol string, ch *Channel, interp commcore.Interpreter) {
	k := poolKey{location, protocol}
	epoch := ch.TimeoutEpoch() + 1 // the epoch SetTimeoutHandler below will bump to
	handle := interp.AddTimeoutHandler(interp.PersistentConnectionTimeout(), func() {
		p.evictOnTimeout(k, ch, epoch)
	})
	ch.SetTimeoutHandler(handle)

	p.mu.Lock()
	p.entries[k] = ch
	size := len(p.entries)
	p.mu.Unlock()

	metrics.SetGauge([]string{"commcore", "pool", "size"}, float32(size))
}

func (p *Pool) evictOnTimeout(k poolKey, ch *Channel, epoch int64) {
	p.mu.Lock()
	cur, ok := p.entries[k]
	stillCached := ok && cur == ch
	stillActive := ch.TimeoutEpoch() == epoch
	if stillCached && stillActive {
		delete(p.entries, k)
	}
	size := len(p.entries)
	p.mu.Unlock()
	metrics.SetGauge([]string{"commcore", "pool", "size"}, float32(size))

	if stillCached && stillActive {
		_ = ch.Close()
	}
}

//	GetPersistent implements spec.md §4.1's getPersistent exactly:
//	absence returns nil; a channel that cannot be non-blockingly locked
//	is evicted (not closed) and nil is returned; a locked-but-closed
//	channel is likewise evicted and nil returned; otherwise its timeout
//	handler is cleared (it is no longer evictable by time while
//	checked out) and it is returned with its mutex released.
func (p *Pool) GetPersistent(location, protocol string) *Channel {
	k := poolKey{location, protocol}

	p.mu.Lock()
	ch, ok := p.entries[k]
	if ok {
		//	Eviction happens here unconditionally, success or failure —
		//	this is the single-use caching the §9 Open Question keeps.
		delete(p.entries, k)
	}
	size := len(p.entries)
	p.mu.Unlock()
	metrics.SetGauge([]string{"commcore", "pool", "size"}, float32(size))

	if !ok {
		return nil
	}
	if !ch.TryLock() {
		return nil
	}
	if !ch.IsOpen() {
		ch.Unlock()
		return nil
	}
	ch.ClearTimeoutHandler()
	ch.Unlock()
	return ch
}

//	Len reports the current number of cached entries, for tests and the
//	admin status surface.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
