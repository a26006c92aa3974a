package commcore

import (
	"time"
)

//	Timeouts collects every duration the Communication Core needs to
//	schedule on its own, mirroring the teacher's per-phase Timeouts
//	struct (timeouts.go) but naming the phases this spec actually has
//	(spec.md §5, §4.9, §4.8) instead of request-type phases.
type Timeouts struct {
	//	PersistentConnectionTimeout is how long an idle channel stays in
	//	the Channel Pool before its timeout handler evicts and closes it
	//	(spec.md §4.1), and the upper bound the Lifecycle shutdown waits
	//	for the Handler Executor to terminate (spec.md §4.9 step 5).
	PersistentConnectionTimeout time.Duration

	//	HandlerDrainTimeout bounds how long shutdown waits to acquire the
	//	channel-handlers write lock (spec.md §4.9 step 4, §8 property 9).
	HandlerDrainTimeout time.Duration

	//	PollInterval is the Polling Loop's sleep between isReady() sweeps
	//	(spec.md §4.8; exposed as configuration per the §9 Open Question
	//	rather than hard-coded).
	PollInterval time.Duration

	//	AsyncAckExtension is how far an asynchronous correlation entry's
	//	deadline is pushed out the first time it receives an
	//	acknowledgement without a final response, mirroring the teacher's
	//	ACKDelay (enclave_client.go tryRequest) — see SPEC_FULL.md §C.
	AsyncAckExtension time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		PersistentConnectionTimeout: 60 * time.Second,
		HandlerDrainTimeout:         5 * time.Second,
		PollInterval:                50 * time.Millisecond,
		AsyncAckExtension:           60 * time.Second,
	}
}
