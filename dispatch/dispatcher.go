package dispatch

import (
	"github.com/kryptco/commcore"
	"github.com/kryptco/commcore/channel"
)

//	Dispatcher is the Dispatcher (C7): it classifies one decoded inbound
//	message into the direct, aggregated, or redirected path (spec.md
//	§4.6), grounded on the teacher's ControlServer.handleEnclave*
//	if/else cascade (control_server.go), generalized to the resource-
//	path redirection rule.
type Dispatcher struct {
	interp commcore.Interpreter

	//	register re-attaches a channel to the Selector Array once it is
	//	safe to read from again: the forwarder channel opened for a
	//	redirected request, and — indirectly, via DisposeForInput — the
	//	original channel after a direct/aggregated/fault reply.
	register func(ch *channel.Channel)
}

func NewDispatcher(interp commcore.Interpreter, register func(ch *channel.Channel)) *Dispatcher {
	return &Dispatcher{interp: interp, register: register}
}

//	HandleReady runs the full Handler (spec.md §4.5) for one channel
//	that the Selector Array or Polling Loop has just handed off.
//	Step 1 is to acquire the channel lock itself: the handoff that
//	reached this method (reactor.Selector.runReadyBatch /
//	reactor.Poller.sweep) releases its own hold on ch as soon as it
//	has submitted this call to the Handler Executor, since that
//	submission returns before the handler actually runs
//	(dispatch.Executor.Submit). HandleReady releases the lock again on
//	every exit path (spec.md §4.5 step 6).
func (d *Dispatcher) HandleReady(ch *channel.Channel, port *InputPort) {
	ch.Lock()
	defer ch.Unlock()

	if ch.IsForwarder() {
		d.handleForwarderResponse(ch)
		return
	}

	msg, err := ch.Recv()
	if err != nil {
		d.interp.LogFine("dispatch: recv failed, channel closed: " + err.Error())
		return
	}

	d.route(ch, port, msg)
}

//	handleForwarderResponse is spec.md §4.5 step 4: a forwarder reads
//	its one response, rewrites it with the original message id, writes
//	it to the original inbound channel, and closes both (spec.md §8
//	property 5: "after which the inbound channel is closed").
func (d *Dispatcher) handleForwarderResponse(forwarder *channel.Channel) {
	resp, err := forwarder.Recv()
	if err != nil {
		d.interp.LogFine("dispatch: forwarder recv failed: " + err.Error())
		_ = forwarder.Close()
		return
	}

	original := forwarder.RedirectionPartner()
	rewritten := resp.WithID(forwarder.RedirectionMessageID())

	original.Lock()
	if sendErr := original.Send(rewritten); sendErr != nil {
		d.interp.LogWarning("dispatch: failed writing redirected response back: " + sendErr.Error())
	}
	original.Unlock()

	_ = original.Close()
	_ = forwarder.Close()
}

//	route implements spec.md §4.6 rules 1-4 in order: redirection,
//	direct, aggregation, unknown operation.
func (d *Dispatcher) route(ch *channel.Channel, port *InputPort, msg commcore.Message) {
	segments := commcore.SplitResourcePath(msg.ResourcePath())

	if len(segments) > 1 {
		d.redirect(ch, port, msg, segments)
		return
	}

	operation := msg.Operation()

	if port.isNative(operation) {
		d.direct(ch, port, msg)
		return
	}

	if handler, ok := port.aggregation(operation); ok {
		d.aggregate(ch, port, msg, handler)
		return
	}

	d.replyFault(ch, msg, commcore.FaultFor(&commcore.InvalidOperationError{Operation: operation}))
}

//	redirect is spec.md §4.6 rule 1.
func (d *Dispatcher) redirect(ch *channel.Channel, port *InputPort, msg commcore.Message, segments []string) {
	target, ok := port.redirectionTarget(segments[0])
	if !ok {
		d.replyFault(ch, msg, commcore.FaultFor(&commcore.InvalidOperationError{Operation: segments[0]}))
		return
	}

	outbound, err := target.OpenChannel()
	if err != nil {
		d.interp.LogWarning("dispatch: redirection target unreachable: " + err.Error())
		d.replyFault(ch, msg, commcore.FaultFor(commcore.NewIOException(err)))
		return
	}

	rewritten := commcore.NewMessage(msg.Operation(), commcore.JoinResourcePath(segments[1:]), msg.Value())
	outbound.SetRedirectionChannel(ch, msg.ID())

	outbound.Lock()
	if err := outbound.Send(rewritten); err != nil {
		outbound.Unlock()
		d.interp.LogWarning("dispatch: redirected send failed: " + err.Error())
		d.replyFault(ch, msg, commcore.FaultFor(commcore.NewIOException(err)))
		return
	}
	outbound.DisposeForInput(d.register)
	outbound.Unlock()
}

//	direct is spec.md §4.6 rule 2.
func (d *Dispatcher) direct(ch *channel.Channel, port *InputPort, msg commcore.Message) {
	op, ok := d.interp.GetInputOperation(msg.Operation())
	if !ok {
		d.replyFault(ch, msg, commcore.FaultFor(&commcore.InvalidOperationError{Operation: msg.Operation()}))
		return
	}
	if err := op.CheckInput(msg.Value()); err != nil {
		d.replyFault(ch, msg, commcore.FaultFor(commcore.NewTypeCheckingException(msg.Operation(), err)))
		return
	}

	result, err := d.interp.CorrelationEngine().Handle(msg.Operation(), msg.Value())
	if err != nil {
		d.replyFault(ch, msg, commcore.FaultFor(err))
		return
	}

	d.reply(ch, port, msg, result)
}

//	aggregate is spec.md §4.6 rule 3.
func (d *Dispatcher) aggregate(ch *channel.Channel, port *InputPort, msg commcore.Message, handler AggregationHandler) {
	result, err := handler(msg.Operation(), msg.Value())
	if err != nil {
		d.replyFault(ch, msg, commcore.FaultFor(err))
		return
	}
	d.reply(ch, port, msg, result)
}

//	reply sends either an empty acknowledgement (one-way operations) or
//	result as the response value, both correlated to msg's id.
func (d *Dispatcher) reply(ch *channel.Channel, port *InputPort, msg commcore.Message, result commcore.Value) {
	var response commcore.Message
	if port.isOneWay(msg.Operation()) {
		response = commcore.NewMessageWithID(msg.ID(), msg.Operation(), "/", nil)
	} else {
		response = commcore.NewMessageWithID(msg.ID(), msg.Operation(), "/", result)
	}
	if err := ch.Send(response); err != nil {
		d.interp.LogWarning("dispatch: reply send failed: " + err.Error())
	}
	ch.DisposeForInput(d.register)
}

//	replyFault sends a fault reply and, since a fault reply is always a
//	terminal outcome for the inbound channel (spec.md §4.6 rules 2-4),
//	disposes it for input just like a normal reply does.
func (d *Dispatcher) replyFault(ch *channel.Channel, msg commcore.Message, fault commcore.Fault) {
	if err := ch.Send(commcore.NewFaultMessage(msg.ID(), fault)); err != nil {
		d.interp.LogWarning("dispatch: fault reply send failed: " + err.Error())
	}
	ch.DisposeForInput(d.register)
}
