package interp

import (
	"fmt"
	"time"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/task"
	"github.com/loomlang/loom/value"
)

// execConcurrency handles every suspension-capable opcode (spec §4.3
// "Concurrency", §4.4 "Suspension points"): spawn, await, wait-all,
// sleep, yield, mutex lock/unlock, channel send/receive. Grounded on
// barn/vm.go's suspend-and-return-to-scheduler shape, generalized from
// MOO's single "waiting for a value" suspension to this spec's richer
// Reason taxonomy.
func (in *Interpreter) execConcurrency(t *task.Task, frame *task.Frame, r *bytecode.Reader, op bytecode.OpCode) (ret *value.Value, reason *Reason, err error) {
	in.Heap.SafepointPoll()

	switch op {
	case bytecode.OpSpawn:
		funcIdx := r.ReadU32()
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e
		}
		id := in.Spawn.SpawnFunction(funcIdx, args, t.ID)
		frame.Push(value.Pointer(object.NewTaskHandle(in.Heap, id)))
		return nil, nil, nil

	case bytecode.OpSpawnClosure:
		argc := r.ReadU8()
		frame.IP = r.IP
		args, e := frame.PopN(int(argc))
		if e != nil {
			return nil, nil, e
		}
		closureVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e
		}
		id := in.Spawn.SpawnClosure(closureVal, args, t.ID)
		frame.Push(value.Pointer(object.NewTaskHandle(in.Heap, id)))
		return nil, nil, nil

	case bytecode.OpAwait:
		frame.IP = r.IP
		handleVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e
		}
		h, ok := value.AsPointerOf[*object.TaskHandle](handleVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: await on a non-task value")
		}
		return nil, &Reason{Kind: ReasonAwaitTask, AwaitTask: h.ID}, nil

	case bytecode.OpWaitAll:
		count := r.ReadU16()
		frame.IP = r.IP
		handles, e := frame.PopN(int(count))
		if e != nil {
			return nil, nil, e
		}
		ids := make([]value.TaskID, len(handles))
		for i, hv := range handles {
			h, ok := value.AsPointerOf[*object.TaskHandle](hv)
			if !ok {
				return nil, nil, fmt.Errorf("interp: wait-all on a non-task value")
			}
			ids[i] = h.ID
		}
		return nil, &Reason{Kind: ReasonWaitAll, WaitAll: ids}, nil

	case bytecode.OpSleep:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e
		}
		millis, ok := toInt64(v)
		if !ok {
			return nil, nil, fmt.Errorf("interp: sleep duration must be an integer number of milliseconds")
		}
		wakeAt := time.Now().Add(time.Duration(millis) * time.Millisecond)
		return nil, &Reason{Kind: ReasonSleep, WakeAtUnixNano: wakeAt.UnixNano()}, nil

	case bytecode.OpYield:
		frame.IP = r.IP
		return nil, &Reason{Kind: ReasonYield}, nil

	case bytecode.OpMutexLock:
		id := r.ReadU16()
		frame.IP = r.IP
		mid := value.MutexID(id)
		if id == 0 {
			mid = in.Mutexes.New()
		}
		m, ok := in.Mutexes.Get(mid)
		if !ok {
			return nil, nil, fmt.Errorf("interp: mutex.lock on unresolved mutex %d", mid)
		}
		if m.TryLock(t.ID) {
			t.AddHeldMutex(mid)
			frame.Push(value.I32(int32(mid)))
			return nil, nil, nil
		}
		m.Enqueue(t.ID)
		// The id is pushed before parking so the task finds it on its
		// stack once Unlock hands it ownership, as on the path above.
		frame.Push(value.I32(int32(mid)))
		return nil, &Reason{Kind: ReasonMutexLock, MutexID: mid}, nil

	case bytecode.OpMutexUnlock:
		id := r.ReadU16()
		frame.IP = r.IP
		mid := value.MutexID(id)
		m, ok := in.Mutexes.Get(mid)
		if !ok {
			return nil, nil, fmt.Errorf("interp: mutex.unlock on unresolved mutex %d", mid)
		}
		next, hasNext, ok := m.Unlock(t.ID)
		if !ok {
			return nil, nil, fmt.Errorf("interp: mutex.unlock on mutex %d not held by this task", mid)
		}
		t.RemoveHeldMutex(mid)
		if hasNext {
			in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: next, MutexGrant: true, GrantedMutex: mid})
		}
		return nil, nil, nil

	case bytecode.OpChanSend:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e
		}
		chVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e
		}
		ch, ok := value.AsPointerOf[*object.Channel](chVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: chan.send on a non-channel value")
		}
		res := ch.Send(v, t.ID)
		switch res.Status {
		case object.ChanDelivered:
			if res.HasWake {
				in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: res.Wake, HasValue: true, Value: v})
			}
			return nil, nil, nil
		case object.ChanBuffered:
			return nil, nil, nil
		case object.ChanClosedErr:
			return nil, nil, chanClosedError{}
		default: // ChanWouldBlock
			return nil, &Reason{Kind: ReasonChannelSend, Channel: chVal, ChannelVal: v}, nil
		}

	case bytecode.OpChanRecv:
		frame.IP = r.IP
		chVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e
		}
		ch, ok := value.AsPointerOf[*object.Channel](chVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: chan.recv on a non-channel value")
		}
		res := ch.Receive(t.ID)
		switch res.Status {
		case object.ChanDelivered:
			if res.HasWake {
				in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: res.Wake})
			}
			frame.Push(res.Value)
			return nil, nil, nil
		case object.ChanClosedErr:
			return nil, nil, chanClosedError{}
		default: // ChanWouldBlock
			return nil, &Reason{Kind: ReasonChannelReceive, Channel: chVal}, nil
		}
	}

	return nil, nil, fmt.Errorf("interp: unimplemented concurrency opcode %s", op)
}

// chanClosedError is synthesizeException's cue to tag the resulting
// Exception with value.ErrChannelClosed instead of the generic
// ErrRuntime fallback (spec §7).
type chanClosedError struct{}

func (chanClosedError) Error() string { return value.ErrChannelClosed.Message() }

func (in *Interpreter) channelClosedException() value.Value {
	msg := object.NewStr(in.Heap, value.ErrChannelClosed.Message())
	exc := object.NewException(in.Heap, value.ErrChannelClosed, value.Pointer(msg), value.Null)
	return value.Pointer(exc)
}

// execChanNonBlocking handles the four non-suspending channel opcodes
// (chan.new, chan.try_send, chan.try_recv, chan.close): unlike
// send/receive these never park the caller, so they live outside
// execConcurrency and fall to execBasic's dispatch chain instead (spec
// §4.4 "non-blocking channel variants never suspend").
func (in *Interpreter) execChanNonBlocking(t *task.Task, frame *task.Frame, r *bytecode.Reader, op bytecode.OpCode) (ret *value.Value, reason *Reason, err error, handled bool) {
	switch op {
	case bytecode.OpChanNew:
		capacity := r.ReadU32()
		frame.IP = r.IP
		ch := object.NewChannel(in.Heap, int(capacity))
		frame.Push(value.Pointer(ch))
		return nil, nil, nil, true

	case bytecode.OpChanTrySend:
		frame.IP = r.IP
		v, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		chVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		ch, ok := value.AsPointerOf[*object.Channel](chVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: chan.try_send on a non-channel value"), true
		}
		ok2, wake, hasWake := ch.TrySend(v)
		if hasWake {
			in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: wake, HasValue: true, Value: v})
		}
		frame.Push(value.Bool(ok2))
		return nil, nil, nil, true

	case bytecode.OpChanTryRecv:
		frame.IP = r.IP
		chVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		ch, ok := value.AsPointerOf[*object.Channel](chVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: chan.try_recv on a non-channel value"), true
		}
		v, ok2, wake, hasWake := ch.TryReceive()
		if hasWake {
			in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: wake})
		}
		if !ok2 {
			v = value.Null
		}
		frame.Push(v)
		frame.Push(value.Bool(ok2))
		return nil, nil, nil, true

	case bytecode.OpChanClose:
		frame.IP = r.IP
		chVal, e := frame.Pop()
		if e != nil {
			return nil, nil, e, true
		}
		ch, ok := value.AsPointerOf[*object.Channel](chVal)
		if !ok {
			return nil, nil, fmt.Errorf("interp: chan.close on a non-channel value"), true
		}
		waiters := ch.Close()
		exc := in.channelClosedException()
		for _, w := range waiters.Senders {
			in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: w, HasException: true, Exception: exc})
		}
		for _, w := range waiters.Receivers {
			in.pendingWakes = append(in.pendingWakes, WakeRequest{Task: w, HasException: true, Exception: exc})
		}
		return nil, nil, nil, true
	}

	return nil, nil, nil, false
}
