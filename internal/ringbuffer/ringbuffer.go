// Package ringbuffer decouples the capture tick from the frame writers. Frames
// are queued by the producer and drained in FIFO order by a single goroutine.
package ringbuffer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
)

// Policy decides what Enqueue does when the buffer is full.
type Policy int

const (
	// DropOldest evicts the oldest queued frame to make room.
	DropOldest Policy = iota
	// BlockProducer makes Enqueue wait until the drain goroutine catches up.
	BlockProducer
)

func (p Policy) String() string {
	if p == BlockProducer {
		return "BlockProducer"
	}
	return "DropOldest"
}

const blockPollInterval = time.Millisecond

// Consumer receives every frame exactly once, in enqueue order.
type Consumer func(*frame.CapturedFrame)

// RingBuffer is a bounded FIFO with a dedicated drain goroutine.
type RingBuffer struct {
	capacity int
	policy   Policy
	consumer Consumer
	logger   *slog.Logger

	mu    sync.Mutex
	queue []*frame.CapturedFrame

	// drainMu serializes consumer invocations between the drain goroutine
	// and Flush callers.
	drainMu sync.Mutex

	pending atomic.Int32
	dropped atomic.Int32
	blocked atomic.Int32

	stopping atomic.Bool
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a ring buffer and starts its drain goroutine. A capacity of
// zero or less means unbounded.
func New(capacity int, policy Policy, consumer Consumer) *RingBuffer {
	rb := &RingBuffer{
		capacity: capacity,
		policy:   policy,
		consumer: consumer,
		logger:   logging.GetLogger("ringbuffer"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go rb.drainLoop()
	return rb
}

// Capacity returns the configured capacity; zero or less is unbounded.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// Policy returns the overflow policy.
func (rb *RingBuffer) Policy() Policy {
	return rb.policy
}

// Enqueue adds a frame. Ownership moves to the buffer. Frames offered after
// shutdown are released immediately and counted as dropped.
func (rb *RingBuffer) Enqueue(f *frame.CapturedFrame) {
	if f == nil {
		return
	}
	if rb.stopping.Load() {
		rb.dropped.Add(1)
		f.Release()
		return
	}

	if rb.capacity > 0 && rb.policy == BlockProducer {
		rb.waitForRoom()
	}

	var evicted *frame.CapturedFrame
	rb.mu.Lock()
	if rb.capacity > 0 && rb.policy == DropOldest && len(rb.queue) >= rb.capacity {
		evicted = rb.queue[0]
		rb.queue[0] = nil
		rb.queue = rb.queue[1:]
		rb.dropped.Add(1)
		rb.pending.Add(-1)
	}
	rb.queue = append(rb.queue, f)
	rb.pending.Add(1)
	rb.mu.Unlock()

	if evicted != nil {
		evicted.Release()
	}
	rb.signal()
}

func (rb *RingBuffer) waitForRoom() {
	if int(rb.pending.Load()) < rb.capacity {
		return
	}
	rb.blocked.Add(1)
	for int(rb.pending.Load()) >= rb.capacity && !rb.stopping.Load() {
		time.Sleep(blockPollInterval)
	}
}

func (rb *RingBuffer) signal() {
	select {
	case rb.wake <- struct{}{}:
	default:
	}
}

func (rb *RingBuffer) drainLoop() {
	defer close(rb.done)
	for {
		<-rb.wake
		rb.drainAll()
		if rb.stopping.Load() {
			return
		}
	}
}

// drainAll consumes frames until the queue is empty.
func (rb *RingBuffer) drainAll() {
	rb.drainMu.Lock()
	defer rb.drainMu.Unlock()
	for {
		f := rb.pop()
		if f == nil {
			return
		}
		rb.consume(f)
	}
}

func (rb *RingBuffer) pop() *frame.CapturedFrame {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.queue) == 0 {
		return nil
	}
	f := rb.queue[0]
	rb.queue[0] = nil
	rb.queue = rb.queue[1:]
	rb.pending.Add(-1)
	return f
}

func (rb *RingBuffer) consume(f *frame.CapturedFrame) {
	defer func() {
		if r := recover(); r != nil {
			rb.logger.Error("Frame consumer panicked",
				"frame", f.Metadata.FrameIndex,
				"panic", fmt.Sprint(r))
		}
	}()
	if rb.consumer != nil {
		rb.consumer(f)
	}
}

// Flush drains every queued frame on the calling goroutine. It may be called
// after Shutdown.
func (rb *RingBuffer) Flush() {
	rb.drainAll()
}

// Stats returns a snapshot of the counters.
func (rb *RingBuffer) Stats() frame.RingBufferStats {
	return frame.RingBufferStats{
		Pending: rb.pending.Load(),
		Dropped: rb.dropped.Load(),
		Blocked: rb.blocked.Load(),
	}
}

// Shutdown stops the drain goroutine and drains residual frames. Safe to call
// more than once.
func (rb *RingBuffer) Shutdown() {
	rb.stopOnce.Do(func() {
		rb.stopping.Store(true)
		rb.signal()
		<-rb.done
		rb.Flush()
		rb.logger.Debug("Ring buffer shut down",
			"dropped", rb.dropped.Load(),
			"blocked", rb.blocked.Load())
	})
}
