package interp

import "github.com/loomlang/loom/value"

// ReasonKind discriminates the Suspended outcome's payload (spec §4.4
// "Suspension reasons").
type ReasonKind int

const (
	ReasonAwaitTask ReasonKind = iota
	ReasonWaitAll
	ReasonSleep
	ReasonChannelSend
	ReasonChannelReceive
	ReasonMutexLock
	ReasonYield
)

// Reason carries whatever the scheduler needs to know when to wake the
// task back up. Only the fields relevant to Kind are populated.
type Reason struct {
	Kind ReasonKind

	AwaitTask value.TaskID
	WaitAll   []value.TaskID

	WakeAtUnixNano int64

	Channel    value.Value // the *object.Channel a blocked send/receive parked on
	ChannelVal value.Value // the value a blocked send was carrying
	MutexID    value.MutexID
}

// OutcomeKind discriminates Outcome.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeFailed
	OutcomeSuspended
)

// WakeRequest names a task the scheduler should transition to Resumed
// (optionally depositing a resume value first), produced when a
// concurrency opcode's effect on a Channel/Mutex hands ownership or a
// value to some other, already-suspended task (spec §4.4/§4.5 "a wake
// must both transition the woken task to Resumed and deposit the
// hand-off value").
//
// MutexGrant additionally tells the scheduler to record GrantedMutex on
// the woken task's held-mutex stack before resuming it: FIFO mutex
// hand-off (object.Mutex.Unlock) transfers ownership directly rather
// than letting the woken task re-contend, so nothing else ever calls
// AddHeldMutex on its behalf.
//
// HasException tells the scheduler to arm the woken task's pending
// exception (task.Task.SetPending) instead of depositing a resume
// value — used when a channel close must fail every parked sender and
// receiver rather than hand either of them a value (spec §4.5 "close").
type WakeRequest struct {
	Task     value.TaskID
	HasValue bool
	Value    value.Value

	MutexGrant   bool
	GrantedMutex value.MutexID

	HasException bool
	Exception    value.Value
}

// Outcome is what Run returns to the scheduler (spec §4.3 "Output").
type Outcome struct {
	Kind OutcomeKind

	Result value.Value // valid when Kind == OutcomeCompleted
	Err    value.Value // valid when Kind == OutcomeFailed; an Exception pointer or plain value
	Reason Reason      // valid when Kind == OutcomeSuspended

	Wakes []WakeRequest
}

func completed(v value.Value, wakes []WakeRequest) Outcome {
	return Outcome{Kind: OutcomeCompleted, Result: v, Wakes: wakes}
}

func failed(err value.Value, wakes []WakeRequest) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err, Wakes: wakes}
}

func suspended(r Reason, wakes []WakeRequest) Outcome {
	return Outcome{Kind: OutcomeSuspended, Reason: r, Wakes: wakes}
}
