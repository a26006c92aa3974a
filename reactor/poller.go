package reactor

import (
	"sync"
	"time"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

//	ReadyProbe reports whether ch has a message waiting, for a
//	transport that exposes neither OS readiness notification nor a
//	blocking read — the concrete case SPEC_FULL.md names is the SQS
//	pubsub transport (package transport), whose "read" is itself a
//	network round trip with no way to select() on it.
type ReadyProbe func(ch *channel.Channel) (bool, error)

//	Poller is the Polling Loop (C9): a fixed-interval sweep over
//	registered channels, calling each one's ReadyProbe and handing
//	ready channels to the executor exactly like the Selector Array
//	does, just without a wait-for-readiness step in between (spec.md
//	§4.4's rationale doesn't apply — there is no transport-level
//	blocking read to hop back into; the medium's own receive loop has
//	already buffered the bytes when the probe reports ready, see
//	transport.PubSubConn and transport.ReadyProbe).
type Poller struct {
	mu       sync.Mutex
	probes   map[*channel.Channel]ReadyProbe
	interval time.Duration
	handoff  HandoffFunc
	interp   commcore.Interpreter

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

//	NewPoller builds a Polling Loop sweeping every interval. It has no
//	default of its own: cmd/commcored passes --poll-interval, whose
//	default is commcore.DefaultTimeouts().PollInterval (50ms).
func NewPoller(interval time.Duration, handoff HandoffFunc, interp commcore.Interpreter) *Poller {
	return &Poller{
		probes:   make(map[*channel.Channel]ReadyProbe),
		interval: interval,
		handoff:  handoff,
		interp:   interp,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

//	Register adds ch to the sweep, using probe to test readiness.
func (p *Poller) Register(ch *channel.Channel, probe ReadyProbe) {
	p.mu.Lock()
	p.probes[ch] = probe
	p.mu.Unlock()
	p.wakeUp()
}

//	Unregister removes ch from the sweep.
func (p *Poller) Unregister(ch *channel.Channel) {
	p.mu.Lock()
	delete(p.probes, ch)
	p.mu.Unlock()
}

func (p *Poller) wakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

//	Start launches the sweep goroutine.
func (p *Poller) Start() { go p.loop() }

//	Stop ends the sweep and waits for it to exit.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-ticker.C:
		}
		p.sweep()
	}
}

func (p *Poller) sweep() {
	p.mu.Lock()
	snapshot := make(map[*channel.Channel]ReadyProbe, len(p.probes))
	for ch, probe := range p.probes {
		snapshot[ch] = probe
	}
	p.mu.Unlock()

	for ch, probe := range snapshot {
		ready, err := probe(ch)
		if err != nil {
			if p.interp != nil {
				p.interp.LogWarning("poller: probe failed: " + err.Error())
			}
			continue
		}
		if !ready {
			continue
		}
		if !ch.TryLock() {
			continue
		}
		p.mu.Lock()
		delete(p.probes, ch)
		p.mu.Unlock()

		// Mirrors Selector.runReadyBatch: the lock is released here,
		// immediately around the handoff call, rather than held open
		// across it — the handoff may be an async submission to the
		// Handler Executor (see HandoffFunc).
		if !ch.IsOpen() {
			ch.Unlock()
			continue
		}
		p.handoff(ch)
		ch.Unlock()
	}
}
