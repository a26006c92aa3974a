package commcore

import (
	"time"

	"github.com/op/go-logging"
)

//	TimeoutHandle is returned by Interpreter.AddTimeoutHandler. Cancel
//	is idempotent: calling it after the handler has already fired, or
//	more than once, is a no-op. The Channel Pool relies on this to
//	"clear" a persistent channel's timeout handler on checkout
//	(spec.md §4.1 step 2).
type TimeoutHandle interface {
	Cancel()
}

//	OperationType is the input-side type signature of one declared
//	operation, used by the Dispatcher's direct path to perform the
//	type check spec.md §4.6 rule 2 requires before handing a message to
//	the correlation engine.
type OperationType interface {
	CheckInput(v Value) error
}

//	CorrelationEngine is the interpreter's semantic engine: the thing
//	that actually executes a native operation once the Dispatcher has
//	validated it. Out of scope per spec.md §1 ("the interpreter's
//	semantic engine... [is] out of scope and treated as external
//	collaborators through the contracts in §6") — the Communication
//	Core only calls through this interface.
type CorrelationEngine interface {
	//	Handle executes a decoded, type-checked request and returns its
	//	response value (or an error, converted to a Fault by the
	//	Dispatcher). For one-way operations the returned value is
	//	ignored; the Dispatcher sends an empty acknowledgement instead.
	Handle(operation string, v Value) (Value, error)
}

//	ExtensionLoader resolves a transport or protocol factory by name,
//	modelling spec.md §6's "loaded lazily through the interpreter's
//	extension classloader by name". Go has no classloader; this is a
//	plain named registry the embedding interpreter populates.
type ExtensionLoader interface {
	Load(name string) (interface{}, bool)
}

//	Interpreter is the capability set the Communication Core is
//	injected with (spec.md §9): logging, classloading, the global
//	operation-type registry, the semantic engine, and timeout
//	scheduling. Every component that needs to reach "outward" — to log,
//	to look up an operation's declared type, to schedule an eviction —
//	does so only through this interface, never through a global.
type Interpreter interface {
	LogWarning(msg string)
	LogSevere(msg string)
	LogFine(msg string)

	ClassLoader() ExtensionLoader

	//	GetInputOperation returns the declared type signature for a
	//	globally-registered operation name, or ok=false if none is
	//	registered under that name at the interpreter level.
	GetInputOperation(name string) (op OperationType, ok bool)

	CorrelationEngine() CorrelationEngine

	//	AddTimeoutHandler schedules fn to run after d elapses and
	//	returns a handle that can cancel it. Implementations typically
	//	wrap time.AfterFunc.
	AddTimeoutHandler(d time.Duration, fn func()) TimeoutHandle

	PersistentConnectionTimeout() time.Duration
}

//	timeAfterFuncHandle adapts *time.Timer to TimeoutHandle.
type timeAfterFuncHandle struct {
	timer *time.Timer
}

func (h *timeAfterFuncHandle) Cancel() {
	if h.timer != nil {
		h.timer.Stop()
	}
}

//	StdInterpreter is an Interpreter backed by op/go-logging and
//	time.AfterFunc, the concrete wiring cmd/commcored uses. Tests that
//	need a CorrelationEngine or ExtensionLoader stub typically embed
//	this and override just those two fields.
type StdInterpreter struct {
	Logger                       *logging.Logger
	Loader                       ExtensionLoader
	Operations                   map[string]OperationType
	Engine                       CorrelationEngine
	PersistentConnectionTimeoutD time.Duration
}

func (i *StdInterpreter) LogWarning(msg string) {
	if i.Logger != nil {
		i.Logger.Warning(msg)
	}
}

func (i *StdInterpreter) LogSevere(msg string) {
	if i.Logger != nil {
		i.Logger.Error(msg)
	}
}

func (i *StdInterpreter) LogFine(msg string) {
	if i.Logger != nil {
		i.Logger.Debug(msg)
	}
}

func (i *StdInterpreter) ClassLoader() ExtensionLoader { return i.Loader }

func (i *StdInterpreter) GetInputOperation(name string) (OperationType, bool) {
	op, ok := i.Operations[name]
	return op, ok
}

func (i *StdInterpreter) CorrelationEngine() CorrelationEngine { return i.Engine }

func (i *StdInterpreter) AddTimeoutHandler(d time.Duration, fn func()) TimeoutHandle {
	return &timeAfterFuncHandle{timer: time.AfterFunc(d, fn)}
}

func (i *StdInterpreter) PersistentConnectionTimeout() time.Duration {
	return i.PersistentConnectionTimeoutD
}
