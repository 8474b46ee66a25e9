package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// ToneSource generates a sine wave in real time. It stands in for program
// audio in headless captures.
type ToneSource struct {
	SampleRate int
	Channels   int
	Frequency  float64
	Amplitude  float64
	Block      time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewToneSource returns a 48 kHz stereo 440 Hz tone delivered in 10ms blocks.
func NewToneSource() *ToneSource {
	return &ToneSource{
		SampleRate: DefaultSampleRate,
		Channels:   2,
		Frequency:  440,
		Amplitude:  0.2,
		Block:      10 * time.Millisecond,
	}
}

// Name implements Source.
func (t *ToneSource) Name() string { return "tone" }

// Start implements Source.
func (t *ToneSource) Start(ctx context.Context, sink Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return errors.New("tone source already running")
	}
	if t.SampleRate <= 0 || t.Channels <= 0 || t.Block <= 0 {
		return errors.New("tone source is not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, sink, t.done)
	return nil
}

func (t *ToneSource) run(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)

	frames := max(1, int(float64(t.SampleRate)*t.Block.Seconds()))
	ticker := time.NewTicker(t.Block)
	defer ticker.Stop()

	var position int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		clock := float64(position) / float64(t.SampleRate)
		sink(t.Render(position, frames), t.Channels, t.SampleRate, clock)
		position += int64(frames)
	}
}

// Render returns frames interleaved samples starting at sample position.
func (t *ToneSource) Render(position int64, frames int) []float32 {
	out := make([]float32, frames*t.Channels)
	step := 2 * math.Pi * t.Frequency / float64(t.SampleRate)
	for i := range frames {
		v := float32(t.Amplitude * math.Sin(step*float64(position+int64(i))))
		for c := range t.Channels {
			out[i*t.Channels+c] = v
		}
	}
	return out
}

// Stop implements Source. It waits for the generator goroutine to exit.
func (t *ToneSource) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
