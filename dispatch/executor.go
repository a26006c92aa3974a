// Package dispatch implements the Handler Executor (C6) and the
// Dispatcher (C7): running one handler per ready channel and routing
// the message it decodes to a direct, aggregated, or redirected
// destination.
package dispatch

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kryptco/commcore"
)

//	Executor is the Handler Executor (C6): a cached goroutine pool,
//	optionally capped by connectionsLimit, whose workers carry a
//	per-goroutine execution-context slot (spec.md §9 "per-thread
//	execution context") and respect a shutdown drain latch.
type Executor struct {
	sem chan struct{} // nil when uncapped

	//	latch is spec.md §4.5 step 2's "channel-handlers read-lock":
	//	every handler run holds it for its duration; shutdown acquires
	//	the write side to drain (spec.md §4.9 step 4).
	latch sync.RWMutex
	wg    sync.WaitGroup

	interp commcore.Interpreter

	dispatched *prometheus.CounterVec
	failed     *prometheus.CounterVec
}

//	NewExecutor builds a Handler Executor. connectionsLimit <= 0 means
//	uncapped (spec.md §4.5: "unbounded cached thread pool (optionally
//	capped)").
func NewExecutor(connectionsLimit int, interp commcore.Interpreter) *Executor {
	e := &Executor{
		interp: interp,
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commcore_handler_dispatched_total",
			Help: "Messages handed to a handler, by outcome.",
		}, []string{"outcome"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commcore_handler_panics_total",
			Help: "Handler goroutines that recovered from a panic.",
		}, []string{}),
	}
	if connectionsLimit > 0 {
		e.sem = make(chan struct{}, connectionsLimit)
	}
	return e
}

//	Collectors exposes the executor's Prometheus metrics for
//	registration with the admin listener's registry.
func (e *Executor) Collectors() []prometheus.Collector {
	return []prometheus.Collector{e.dispatched, e.failed}
}

//	contextSlot is the scoped-guard spec.md §9 describes for the
//	per-thread execution context: installed before task runs, cleared
//	on every exit path, regardless of panic.
type contextSlot struct {
	mu  sync.Mutex
	ctx interface{}
}

func (s *contextSlot) set(ctx interface{}) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

func (s *contextSlot) get() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *contextSlot) clear() { s.set(nil) }

//	Submit runs task on a goroutine from the pool (acquiring a
//	semaphore slot first if the executor is capped), guarded against
//	panics the way the teacher guards EnclaveClient's background
//	goroutines (`go kr.RecoverToLog(...)`, `panicrecover.go`, adapted
//	here to log through commcore.Interpreter instead of a concrete
//	*logging.Logger). Submit returns immediately; it does not wait for
//	task to finish.
func (e *Executor) Submit(task func(ctx *ExecutionSlot)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.sem != nil {
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
		}

		e.latch.RLock()
		defer e.latch.RUnlock()

		slot := &ExecutionSlot{slot: &contextSlot{}}
		defer slot.slot.clear()

		defer func() {
			if r := recover(); r != nil {
				e.failed.WithLabelValues().Inc()
				e.dispatched.WithLabelValues("panic").Inc()
				if e.interp != nil {
					e.interp.LogSevere("handler panic: recovered")
					e.interp.LogFine(string(debug.Stack()))
				}
				return
			}
			e.dispatched.WithLabelValues("ok").Inc()
		}()
		task(slot)
	}()
}

//	Drain acquires the write side of the channel-handlers latch,
//	blocking until every in-flight handler has released its read-lock
//	(spec.md §4.9 step 4). Callers should apply their own timeout
//	around this call (the lifecycle package's 5s drain window).
func (e *Executor) Drain() {
	e.latch.Lock()
	e.latch.Unlock()
}

//	Wait blocks until every submitted task has returned, used by the
//	lifecycle package's executor-termination wait (spec.md §4.9 step 5).
func (e *Executor) Wait() {
	e.wg.Wait()
}

//	ExecutionSlot is the per-invocation handle to the Handler
//	Executor's execution-context slot (spec.md §9). Handlers call Set
//	to install interpreter session state and Get to read whatever the
//	correlation engine or dispatcher previously installed; it is
//	always cleared when the handler returns.
type ExecutionSlot struct {
	slot *contextSlot
}

func (s *ExecutionSlot) Set(ctx interface{}) { s.slot.set(ctx) }
func (s *ExecutionSlot) Get() interface{}    { return s.slot.get() }
