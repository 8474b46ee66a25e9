// Package audio records the program audio of a capture: it timestamps
// incoming sample buffers, hands them to the video pipeline frame by frame
// and writes the full take to a WAV file.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/settings"
)

const (
	// MaxPendingPackets bounds the queue between the source and Gather.
	MaxPendingPackets = 256
	// DefaultSampleRate is reported until the source delivers a buffer.
	DefaultSampleRate = 48000
	// GatherLookahead lets Gather take packets slightly ahead of the frame.
	GatherLookahead = 1.0 / 120.0
)

// Sink receives interleaved float samples in [-1, 1]. clock is the source
// clock in seconds and only needs to be monotonic.
type Sink func(samples []float32, channels, sampleRate int, clock float64)

// Source produces audio buffers until stopped.
type Source interface {
	Name() string
	Start(ctx context.Context, sink Sink) error
	Stop()
}

// Recorder queues timestamped PCM packets for the capture pipeline and
// mirrors them into a WAV file.
type Recorder struct {
	logger *slog.Logger
	source Source
	gain   float64

	mu          sync.Mutex
	queue       []frame.AudioPacket
	recording   bool
	clockOrigin float64
	sampleRate  int
	wav         *WAVWriter
	wavFailed   bool
	outputPath  string

	pending        atomic.Int32
	dropped        atomic.Int32
	paused         atomic.Bool
	overflowLogged atomic.Bool
}

// NewRecorder returns a recorder fed by source.
func NewRecorder(source Source) *Recorder {
	return &Recorder{
		logger:      logging.GetLogger("audio"),
		source:      source,
		gain:        1,
		clockOrigin: -1,
		sampleRate:  DefaultSampleRate,
	}
}

// Initialize applies the capture settings and resets the counters. It
// reports whether a source is available.
func (r *Recorder) Initialize(s settings.Settings) bool {
	r.mu.Lock()
	r.gain = s.AudioGain
	r.clockOrigin = -1
	r.mu.Unlock()

	r.pending.Store(0)
	r.dropped.Store(0)
	r.overflowLogged.Store(false)
	r.paused.Store(false)
	return r.source != nil
}

// Start opens <dir>/<base>.wav and starts the source. Calling Start while
// recording does nothing.
func (r *Recorder) Start(ctx context.Context, dir, base string) error {
	if r.source == nil {
		return fmt.Errorf("no audio source")
	}

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil
	}
	if base == "" {
		base = settings.DefaultBaseName
	}
	path := filepath.Join(dir, base+".wav")
	wav, err := CreateWAV(path)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.wav = wav
	r.wavFailed = false
	r.outputPath = path
	r.clockOrigin = -1
	r.recording = true
	r.mu.Unlock()

	r.dropped.Store(0)
	r.overflowLogged.Store(false)
	r.paused.Store(false)

	if err := r.source.Start(ctx, r.HandleBuffer); err != nil {
		r.mu.Lock()
		r.recording = false
		r.wav = nil
		r.mu.Unlock()
		wav.Close()
		return fmt.Errorf("start audio source %s: %w", r.source.Name(), err)
	}
	r.logger.Debug("Audio recording started", "source", r.source.Name(), "path", path)
	return nil
}

// Stop stops the source, finalizes the WAV file and discards queued
// packets. It returns the path of the written file.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", nil
	}
	r.recording = false
	r.mu.Unlock()

	r.source.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	wav := r.wav
	r.wav = nil
	r.queue = nil
	r.clockOrigin = -1
	r.pending.Store(0)
	r.dropped.Store(0)
	r.overflowLogged.Store(false)
	r.paused.Store(false)

	if wav == nil {
		return r.outputPath, nil
	}
	if err := wav.Close(); err != nil {
		return r.outputPath, err
	}
	r.logger.Debug("Audio recording stopped", "path", r.outputPath, "bytes", wav.DataBytes())
	return r.outputPath, nil
}

// HandleBuffer converts one source buffer to a packet and queues it. When
// the queue is full the oldest packets are dropped.
func (r *Recorder) HandleBuffer(samples []float32, channels, sampleRate int, clock float64) {
	if r.paused.Load() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}

	r.sampleRate = sampleRate
	if r.clockOrigin < 0 {
		r.clockOrigin = clock
	}

	pkt := frame.AudioPacket{
		Timestamp:   math.Max(0, clock-r.clockOrigin),
		SampleRate:  sampleRate,
		NumChannels: channels,
		PCM16:       make([]int16, len(samples)),
	}
	for i, v := range samples {
		pkt.PCM16[i] = toPCM16(float64(v) * r.gain)
	}

	if r.wav != nil && !r.wavFailed {
		if err := r.wav.WriteSamples(sampleRate, channels, pkt.PCM16); err != nil {
			r.wavFailed = true
			r.logger.Error("Audio file write failed; further samples are not saved", "path", r.outputPath, "error", err)
		}
	}

	dropped := false
	for len(r.queue) >= MaxPendingPackets {
		r.queue[0] = frame.AudioPacket{}
		r.queue = r.queue[1:]
		r.pending.Add(-1)
		r.dropped.Add(1)
		dropped = true
	}
	r.queue = append(r.queue, pkt)
	r.pending.Add(1)

	if dropped && !r.overflowLogged.Swap(true) {
		r.logger.Warn("OmniCapture audio queue overflowed. Dropping oldest packets to keep audio in sync.")
	}
}

func toPCM16(v float64) int16 {
	return int16(min(max(math.Round(v*32767), -32768), 32767))
}

// Gather removes and returns the queued packets that start no later than
// frameTS plus GatherLookahead.
func (r *Recorder) Gather(frameTS float64) []frame.AudioPacket {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := frameTS + GatherLookahead
	n := 0
	for n < len(r.queue) && r.queue[n].Timestamp <= threshold {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]frame.AudioPacket, n)
	copy(out, r.queue[:n])
	clear(r.queue[:n])
	r.queue = r.queue[n:]
	r.pending.Add(int32(-n))
	return out
}

// ResetStats clears the drop counters between segments.
func (r *Recorder) ResetStats() {
	r.dropped.Store(0)
	r.overflowLogged.Store(false)
}

// SetPaused makes the recorder ignore incoming buffers while paused.
func (r *Recorder) SetPaused(paused bool) { r.paused.Store(paused) }

// Paused reports whether input is being ignored.
func (r *Recorder) Paused() bool { return r.paused.Load() }

// Recording reports whether the recorder is between Start and Stop.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Pending returns the number of queued packets.
func (r *Recorder) Pending() int { return int(r.pending.Load()) }

// Dropped returns the packets discarded by the overflow policy.
func (r *Recorder) Dropped() int { return int(r.dropped.Load()) }

// OutputPath returns the WAV path of the current or last recording.
func (r *Recorder) OutputPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputPath
}

// DebugStatus returns a one-line summary for the status display.
func (r *Recorder) DebugStatus() string {
	r.mu.Lock()
	rate := r.sampleRate
	r.mu.Unlock()
	name := "none"
	if r.source != nil {
		name = r.source.Name()
	}
	return fmt.Sprintf("AudioPackets:%d Dropped:%d SR:%d Source:%s", r.Pending(), r.Dropped(), rate, name)
}
