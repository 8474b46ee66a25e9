package ringbuffer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/omnicapture/internal/frame"
)

func newFrame(index uint32, onRelease func()) *frame.CapturedFrame {
	return &frame.CapturedFrame{
		Metadata: frame.Metadata{FrameIndex: index, Timecode: float64(index) / 30},
		Texture:  frame.NewTexture(2, 2, frame.FormatBGRA, nil, onRelease),
	}
}

// recorder collects consumed frame indices.
type recorder struct {
	mu      sync.Mutex
	indices []uint32
}

func (r *recorder) consume(f *frame.CapturedFrame) {
	r.mu.Lock()
	r.indices = append(r.indices, f.Metadata.FrameIndex)
	r.mu.Unlock()
	f.Release()
}

func (r *recorder) snapshot() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.indices...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDropOldestBoundsPending(t *testing.T) {
	const capacity = 3
	gate := make(chan struct{})
	var entered atomic.Bool
	rec := &recorder{}

	rb := New(capacity, DropOldest, func(f *frame.CapturedFrame) {
		if f.Metadata.FrameIndex == 0 {
			entered.Store(true)
			<-gate
		}
		rec.consume(f)
	})

	// Park the drain goroutine inside the consumer so the queue can fill.
	rb.Enqueue(newFrame(0, nil))
	waitFor(t, entered.Load)

	var released atomic.Int32
	const extra = 5
	for i := uint32(1); i <= capacity+extra; i++ {
		rb.Enqueue(newFrame(i, func() { released.Add(1) }))
		if got := rb.Stats().Pending; got > capacity {
			t.Fatalf("pending = %d after enqueue %d, capacity %d", got, i, capacity)
		}
	}

	if got := rb.Stats().Dropped; got != extra {
		t.Errorf("dropped = %d, want %d", got, extra)
	}
	if got := released.Load(); got != extra {
		t.Errorf("evicted frames released = %d, want %d", got, extra)
	}

	close(gate)
	rb.Shutdown()

	want := []uint32{0, 6, 7, 8}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("consumed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("consumed[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBlockProducerLosesNothing(t *testing.T) {
	rec := &recorder{}
	rb := New(2, BlockProducer, func(f *frame.CapturedFrame) {
		time.Sleep(500 * time.Microsecond)
		rec.consume(f)
	})

	const total = 40
	for i := uint32(0); i < total; i++ {
		rb.Enqueue(newFrame(i, nil))
		if got := rb.Stats().Pending; got > 2 {
			t.Fatalf("pending = %d exceeds capacity", got)
		}
	}
	rb.Shutdown()

	stats := rb.Stats()
	if stats.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", stats.Dropped)
	}
	if stats.Blocked == 0 {
		t.Error("expected at least one blocked enqueue")
	}
	if got := len(rec.snapshot()); got != total {
		t.Errorf("consumed %d frames, want %d", got, total)
	}
}

func TestFlushEmptiesQueue(t *testing.T) {
	rec := &recorder{}
	rb := New(0, DropOldest, rec.consume)
	defer rb.Shutdown()

	for i := uint32(0); i < 100; i++ {
		rb.Enqueue(newFrame(i, nil))
	}
	rb.Flush()

	if got := rb.Stats().Pending; got != 0 {
		t.Errorf("pending after flush = %d, want 0", got)
	}
	if got := len(rec.snapshot()); got != 100 {
		t.Errorf("consumed %d frames, want 100", got)
	}
}

func TestFIFOExactlyOnce(t *testing.T) {
	rec := &recorder{}
	rb := New(0, BlockProducer, rec.consume)

	const total = 500
	for i := uint32(0); i < total; i++ {
		rb.Enqueue(newFrame(i, nil))
	}
	rb.Shutdown()

	got := rec.snapshot()
	if len(got) != total {
		t.Fatalf("consumed %d frames, want %d", len(got), total)
	}
	for i, idx := range got {
		if idx != uint32(i) {
			t.Fatalf("consumed[%d] = %d, out of order", i, idx)
		}
	}
}

func TestConsumerPanicDoesNotStopDrain(t *testing.T) {
	rec := &recorder{}
	rb := New(0, DropOldest, func(f *frame.CapturedFrame) {
		if f.Metadata.FrameIndex == 1 {
			panic("bad frame")
		}
		rec.consume(f)
	})

	for i := uint32(0); i < 3; i++ {
		rb.Enqueue(newFrame(i, nil))
	}
	rb.Shutdown()

	got := rec.snapshot()
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("consumed %v, want [0 2]", got)
	}
	if pending := rb.Stats().Pending; pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestEnqueueAfterShutdownReleases(t *testing.T) {
	rb := New(4, DropOldest, func(f *frame.CapturedFrame) { f.Release() })
	rb.Shutdown()
	rb.Shutdown()

	released := false
	rb.Enqueue(newFrame(0, func() { released = true }))
	if !released {
		t.Error("frame offered after shutdown was not released")
	}
	if got := rb.Stats().Dropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestPolicyString(t *testing.T) {
	if DropOldest.String() != "DropOldest" || BlockProducer.String() != "BlockProducer" {
		t.Errorf("unexpected policy names %q %q", DropOldest, BlockProducer)
	}
}
