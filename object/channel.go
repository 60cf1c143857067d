package object

import (
	"sync"

	"github.com/loomlang/loom/value"
)

// ChanStatus is the outcome of a Channel operation.
type ChanStatus int

const (
	ChanDelivered ChanStatus = iota // handed directly to a waiting counterpart
	ChanBuffered                    // enqueued into the bounded buffer
	ChanWouldBlock                  // caller must suspend
	ChanClosedErr                   // operation failed: channel is closed
)

// SendResult is returned by Channel.Send. When Status is ChanDelivered,
// HasWake names the receiver to wake (scheduler transitions it to
// Resumed and deposits Value into its resume slot).
type SendResult struct {
	Status  ChanStatus
	HasWake bool
	Wake    value.TaskID
}

// ReceiveResult is returned by Channel.Receive.
type ReceiveResult struct {
	Status  ChanStatus
	Value   value.Value
	HasWake bool
	Wake    value.TaskID // sender to wake, once its value has been taken
}

// Channel is a bounded FIFO of Value (spec §3 "Channel", §4.5). It
// never itself suspends a task or touches the task registry: Send/
// Receive report what the caller (the interpreter, via the scheduler)
// should do next, keeping this package free of a dependency on task.
type Channel struct {
	value.Header
	mu       sync.Mutex
	capacity int
	buf      []value.Value
	closed   bool

	// sendWaiters/recvWaiters hold the task ids that returned
	// ChanWouldBlock and are parked on this channel; FIFO order is the
	// slice order (spec §4.4 "Channel send/receive pairings follow FIFO
	// on both sender and receiver waiter queues").
	sendWaiters []pendingSend
	recvWaiters []value.TaskID
}

type pendingSend struct {
	task value.TaskID
	val  value.Value
}

func NewChannel(h *value.Heap, capacity int) *Channel {
	obj := &Channel{capacity: capacity}
	h.Allocate(obj)
	return obj
}

func (c *Channel) TypeName() string { return "Channel" }
func (c *Channel) Size() int64      { return int64(len(c.buf))*16 + 32 }

func (c *Channel) Trace(out []value.Value) []value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out = append(out, c.buf...)
	for _, p := range c.sendWaiters {
		out = append(out, p.val)
	}
	return out
}

// Send attempts to hand value directly to a waiting receiver, else
// buffers it, else registers self as a waiter and returns
// ChanWouldBlock (spec §4.5 "send").
func (c *Channel) Send(v value.Value, self value.TaskID) SendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SendResult{Status: ChanClosedErr}
	}
	if len(c.recvWaiters) > 0 {
		receiver := c.recvWaiters[0]
		c.recvWaiters = c.recvWaiters[1:]
		return SendResult{Status: ChanDelivered, HasWake: true, Wake: receiver}
	}
	if len(c.buf) < c.capacity {
		c.buf = append(c.buf, v)
		return SendResult{Status: ChanBuffered}
	}
	c.sendWaiters = append(c.sendWaiters, pendingSend{task: self, val: v})
	return SendResult{Status: ChanWouldBlock}
}

// Receive is the symmetric counterpart of Send.
func (c *Channel) Receive(self value.TaskID) ReceiveResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) > 0 {
		v := c.buf[0]
		c.buf = append(c.buf[:0:0], c.buf[1:]...)
		// a buffered slot freed up: let the oldest parked sender in.
		if len(c.sendWaiters) > 0 {
			p := c.sendWaiters[0]
			c.sendWaiters = c.sendWaiters[1:]
			c.buf = append(c.buf, p.val)
			return ReceiveResult{Status: ChanDelivered, Value: v, HasWake: true, Wake: p.task}
		}
		return ReceiveResult{Status: ChanDelivered, Value: v}
	}
	if len(c.sendWaiters) > 0 {
		p := c.sendWaiters[0]
		c.sendWaiters = c.sendWaiters[1:]
		return ReceiveResult{Status: ChanDelivered, Value: p.val, HasWake: true, Wake: p.task}
	}
	if c.closed {
		return ReceiveResult{Status: ChanClosedErr}
	}
	c.recvWaiters = append(c.recvWaiters, self)
	return ReceiveResult{Status: ChanWouldBlock}
}

// TrySend never registers a waiter; it reports success/failure only.
func (c *Channel) TrySend(v value.Value) (ok bool, wake value.TaskID, hasWake bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, 0, false
	}
	if len(c.recvWaiters) > 0 {
		receiver := c.recvWaiters[0]
		c.recvWaiters = c.recvWaiters[1:]
		return true, receiver, true
	}
	if len(c.buf) < c.capacity {
		c.buf = append(c.buf, v)
		return true, 0, false
	}
	return false, 0, false
}

// TryReceive never registers a waiter.
func (c *Channel) TryReceive() (v value.Value, ok bool, wake value.TaskID, hasWake bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) > 0 {
		v = c.buf[0]
		c.buf = append(c.buf[:0:0], c.buf[1:]...)
		if len(c.sendWaiters) > 0 {
			p := c.sendWaiters[0]
			c.sendWaiters = c.sendWaiters[1:]
			c.buf = append(c.buf, p.val)
			return v, true, p.task, true
		}
		return v, true, 0, false
	}
	if len(c.sendWaiters) > 0 {
		p := c.sendWaiters[0]
		c.sendWaiters = c.sendWaiters[1:]
		return p.val, true, p.task, true
	}
	return value.Value{}, false, 0, false
}

// CloseWaiters is everything Close must wake with a ChannelClosed
// error: every parked sender and every parked receiver.
type CloseWaiters struct {
	Senders   []value.TaskID
	Receivers []value.TaskID
}

// Close marks the channel closed. Further sends fail; further receives
// still drain the remaining buffer before failing (spec §4.5 "close").
func (c *Channel) Close() CloseWaiters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return CloseWaiters{}
	}
	c.closed = true
	var w CloseWaiters
	for _, p := range c.sendWaiters {
		w.Senders = append(w.Senders, p.task)
	}
	w.Receivers = append(w.Receivers, c.recvWaiters...)
	c.sendWaiters = nil
	c.recvWaiters = nil
	return w
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) BufferedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}
