// Package lifecycle implements the Lifecycle (C10, spec.md §4.9):
// startup and shutdown orchestration across N listeners, the Selector
// Array, the Polling Loop, and the Handler Executor. Grounded on the
// teacher's krd/daemon.go main-loop shape (listen, spawn server
// goroutine, block on os/signal) generalized from one control socket
// to an arbitrary set of listeners and reactors.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/op/go-logging"

	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
	"github.com/kryptco/commcore/dispatch"
	"github.com/kryptco/commcore/reactor"
)

//	AcceptLoop is anything with a blocking accept-and-register step —
//	satisfied structurally by *transport.Listener, which cmd/commcored
//	passes in directly, so this package need not import transport.
type AcceptLoop interface {
	AcceptChannel() (*channel.Channel, error)
	Close() error
}

//	Core is the Communication Core's top-level object (spec.md §4.9):
//	it owns the listeners, the Selector Array, the Polling Loop, and
//	the Handler Executor, and sequences their startup and shutdown.
type Core struct {
	active int32 // atomic bool

	listeners []AcceptLoop
	array     *reactor.Array
	poller    *reactor.Poller
	executor  *dispatch.Executor

	persistentConnectionTimeout time.Duration
	drainTimeout                time.Duration

	log *logging.Logger

	wg sync.WaitGroup
}

//	New builds a Core. drainTimeout defaults to spec.md §4.9 step 4's 5s
//	when zero. A panicking accept loop is recovered the way the teacher
//	recovers its background goroutines (commcore.RecoverToLog,
//	panicrecover.go) instead of crashing the process; that listener's
//	loop then stops accepting. log may be nil; when set, the panic is
//	logged to it.
func New(array *reactor.Array, poller *reactor.Poller, executor *dispatch.Executor, persistentConnectionTimeout, drainTimeout time.Duration, log *logging.Logger) *Core {
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	return &Core{
		array:                       array,
		poller:                      poller,
		executor:                    executor,
		persistentConnectionTimeout: persistentConnectionTimeout,
		drainTimeout:                drainTimeout,
		log:                         log,
	}
}

//	Init is spec.md §4.9's init: mark active, start the reactors, start
//	every listener's accept loop. It returns before listeners are
//	necessarily ready to accept — readiness is only observable by a
//	successful connect, exactly as spec.md states.
func (c *Core) Init(listeners []AcceptLoop, onAccept func(ch *channel.Channel)) {
	atomic.StoreInt32(&c.active, 1)
	c.listeners = listeners

	if c.array != nil {
		c.array.Start()
	}
	if c.poller != nil {
		c.poller.Start()
	}

	for _, ln := range listeners {
		ln := ln
		c.wg.Add(1)
		go c.acceptLoop(ln, onAccept)
	}
}

func (c *Core) acceptLoop(ln AcceptLoop, onAccept func(ch *channel.Channel)) {
	defer c.wg.Done()
	commcore.RecoverToLog(func() {
		for atomic.LoadInt32(&c.active) == 1 {
			ch, err := ln.AcceptChannel()
			if err != nil {
				if atomic.LoadInt32(&c.active) == 0 {
					return
				}
				continue
			}
			onAccept(ch)
		}
	}, c.log)
}

func (c *Core) IsActive() bool { return atomic.LoadInt32(&c.active) == 1 }

//	Shutdown runs spec.md §4.9's six-step shutdown synchronously,
//	aggregating every listener-close error with go-multierror the way
//	the teacher aggregates failures across concurrent SSH-agent backends
//	(agent/, superseded here — see DESIGN.md).
func (c *Core) Shutdown() error {
	var result *multierror.Error

	// 1. active <- false.
	atomic.StoreInt32(&c.active, 0)

	// 2. Shut down each listener.
	for _, ln := range c.listeners {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.wg.Wait()

	// 3. Wake and join every selector (and the polling loop, which
	//    spec.md treats as an auxiliary reactor for non-pollable media).
	if c.array != nil {
		c.array.Stop()
	}
	if c.poller != nil {
		c.poller.Stop()
	}

	// 4. Drain in-flight handlers with a 5s timeout.
	if c.executor != nil {
		drained := make(chan struct{})
		go func() {
			c.executor.Drain()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(c.drainTimeout):
			result = multierror.Append(result, errDrainTimeout{})
		}

		// 5. Shut down the handler executor, waiting up to
		//    persistent-connection-timeout for termination.
		waited := make(chan struct{})
		go func() {
			c.executor.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(c.persistentConnectionTimeout):
			result = multierror.Append(result, errExecutorTerminationTimeout{})
		}
	}

	// 6. Interrupt the owning thread group: in Go there is no thread
	//    group to interrupt — every goroutine spawned above already
	//    observes c.active/closed channels/stopped reactors and returns
	//    on its own, which is the idiomatic equivalent.
	return result.ErrorOrNil()
}

type errDrainTimeout struct{}

func (errDrainTimeout) Error() string { return "lifecycle: handler drain timed out" }

type errExecutorTerminationTimeout struct{}

func (errExecutorTerminationTimeout) Error() string {
	return "lifecycle: handler executor termination timed out"
}
