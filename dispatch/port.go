package dispatch

import (
	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

//	OutputPort is the client-side collaborator the Dispatcher's
//	redirection path (spec.md §4.6 rule 1) opens a forwarder channel
//	against. A concrete implementation typically wraps a
//	channel.Pool.Acquire call bound to one location/protocol pair
//	(package transport).
type OutputPort interface {
	OpenChannel() (*channel.Channel, error)
}

//	AggregationHandler executes an aggregated operation (spec.md §4.6
//	rule 3: "execute its aggregation behaviour, an external
//	collaborator"). Out of scope per spec.md §1 beyond this seam.
type AggregationHandler func(operation string, v commcore.Value) (commcore.Value, error)

//	InputPort is the server-side binding the Dispatcher routes against:
//	which operations it declares natively, which of those are one-way,
//	which names have an aggregation behaviour, and which leading path
//	segments redirect to an output port (spec.md GLOSSARY "Input port",
//	"Aggregation", "Redirection").
type InputPort struct {
	Name string

	//	RedirectionMap binds a leading resource-path segment to the
	//	output port requests under it are forwarded to.
	RedirectionMap map[string]OutputPort

	//	NativeOperations names operations this port handles directly
	//	(spec.md §4.6 rule 2). Operation type signatures themselves
	//	live at the interpreter level (commcore.Interpreter.GetInputOperation),
	//	not here — a port only says which of the globally-declared
	//	operations it exposes.
	NativeOperations map[string]bool

	//	OneWayOperations names operations that reply with an empty
	//	acknowledgement instead of the correlation engine's return value
	//	(spec.md §4.6 rule 2).
	OneWayOperations map[string]bool

	//	AggregatedOperations names operations handled by composing
	//	sub-services rather than the port's own correlation engine
	//	(spec.md §4.6 rule 3).
	AggregatedOperations map[string]AggregationHandler
}

func (p *InputPort) isNative(operation string) bool {
	return p.NativeOperations != nil && p.NativeOperations[operation]
}

func (p *InputPort) isOneWay(operation string) bool {
	return p.OneWayOperations != nil && p.OneWayOperations[operation]
}

func (p *InputPort) aggregation(operation string) (AggregationHandler, bool) {
	if p.AggregatedOperations == nil {
		return nil, false
	}
	h, ok := p.AggregatedOperations[operation]
	return h, ok
}

func (p *InputPort) redirectionTarget(segment string) (OutputPort, bool) {
	if p.RedirectionMap == nil {
		return nil, false
	}
	target, ok := p.RedirectionMap[segment]
	return target, ok
}
