package nvenc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/settings"
)

// ErrEncoderNotInitialized is returned by EnqueueFrame before Initialize.
var ErrEncoderNotInitialized = errors.New("encoder not initialised")

// PacketSink observes every packet written to the bitstream. Sinks run with
// the encoder locked and must not call back into it.
type PacketSink func(codec Codec, p Packet)

// EncoderStats counts encoder activity for the current output.
type EncoderStats struct {
	FramesSubmitted int   `json:"framesSubmitted"`
	FramesFailed    int   `json:"framesFailed"`
	PacketsWritten  int   `json:"packetsWritten"`
	BytesWritten    int64 `json:"bytesWritten"`
}

// Encoder owns at most one Session and the bitstream file it writes to. The
// session is opened, validated and initialised by Initialize, so a device
// that refuses it fails the output before any frame is captured.
type Encoder struct {
	runtime Runtime
	device  Device
	logger  *slog.Logger

	mu          sync.Mutex
	session     *Session
	writer      *BitstreamWriter
	params      Parameters
	interop     Interop
	initialized bool
	lastErr     string
	headerNoted bool
	stats       EncoderStats

	sinkMu sync.RWMutex
	sinks  map[int]PacketSink
	sinkID int
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithDevice sets the device sessions are opened on.
func WithDevice(d Device) EncoderOption {
	return func(e *Encoder) { e.device = d }
}

// NewEncoder creates an encoder that opens sessions on rt.
func NewEncoder(rt Runtime, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		runtime: rt,
		logger:  logging.GetLogger("nvenc"),
		sinks:   make(map[int]PacketSink),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BitstreamExtension returns the file extension of a raw stream for codec.
func BitstreamExtension(c Codec) string {
	if c == CodecHEVC {
		return ".h265"
	}
	return ".h264"
}

// Initialize prepares a new output. Any previous output is finalized first.
func (e *Encoder) Initialize(ctx context.Context, s settings.Settings, size settings.Size, outputDir, baseName string) error {
	if err := e.Finalize(ctx); err != nil {
		e.logger.Warn("Finalizing previous encoder output failed", "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastErr = ""
	e.headerNoted = false
	e.stats = EncoderStats{}

	if e.runtime == nil {
		e.lastErr = "NVENC runtime is unavailable. Falling back to image sequence."
		return errors.New(e.lastErr)
	}

	e.params = ParametersFromSettings(s, size)
	e.interop = InteropNative
	if s.D3D12Interop == settings.InteropBridge {
		e.interop = InteropBridge
	}

	if err := e.openSessionLocked(ctx); err != nil {
		e.lastErr = err.Error()
		return fmt.Errorf("open encoder session: %w", err)
	}

	path := filepath.Join(outputDir, baseName+BitstreamExtension(e.params.Codec))
	w, err := CreateBitstream(path)
	if err != nil {
		e.session.Destroy()
		e.session = nil
		e.lastErr = fmt.Sprintf("Unable to open NVENC output file at %s.", path)
		return fmt.Errorf("%s: %w", e.lastErr, err)
	}
	e.writer = w
	e.initialized = true

	e.logger.Info("Encoder output opened",
		"width", e.params.Width,
		"height", e.params.Height,
		"codec", e.params.Codec,
		"format", e.params.Format,
		"path", path)
	return nil
}

// openSessionLocked opens and initializes a fresh session. Callers hold e.mu.
func (e *Encoder) openSessionLocked(ctx context.Context) error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}

	s := NewSession(e.runtime)
	s.SetPreferredInterop(e.interop)
	if err := s.Open(ctx, e.params.Codec, e.device); err != nil {
		return err
	}
	if err := s.ValidatePreset(e.params.Codec); err != nil {
		s.Destroy()
		return err
	}
	if err := s.Initialize(ctx, e.params); err != nil {
		s.Destroy()
		return err
	}
	e.session = s
	e.logger.Info("Encoder session initialised",
		"width", e.params.Width, "height", e.params.Height, "interop", s.Interop())
	return nil
}

// EnqueueFrame encodes f and appends the resulting packets. It does not
// release f.
func (e *Encoder) EnqueueFrame(ctx context.Context, f *frame.CapturedFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrEncoderNotInitialized
	}

	planes := f.EncoderPlanes
	if len(planes) == 0 && f.Texture != nil {
		planes = []*frame.Texture{f.Texture}
	}
	if len(planes) == 0 {
		e.stats.FramesFailed++
		e.lastErr = "Frame has no encoder input."
		return ErrNoInput
	}

	if f.ReadyFence != nil {
		if err := f.ReadyFence.Wait(ctx); err != nil {
			e.stats.FramesFailed++
			e.lastErr = "Timed out waiting for encoder input."
			return fmt.Errorf("wait for frame %d: %w", f.Metadata.FrameIndex, err)
		}
	}

	if e.session == nil {
		e.stats.FramesFailed++
		return ErrNotOpen
	}

	packets, err := e.session.EncodeFrame(ctx, planes, f.Metadata)
	e.stats.FramesSubmitted++
	if err != nil {
		e.stats.FramesFailed++
		e.lastErr = e.session.LastError()
		return err
	}
	return e.writePacketsLocked(packets)
}

func (e *Encoder) writePacketsLocked(packets []Packet) error {
	if !e.writer.HeaderWritten() {
		if header := e.session.SequenceHeader(); header != nil {
			if err := e.writer.WriteHeader(header); err != nil {
				e.lastErr = err.Error()
				return err
			}
			e.logger.Debug("Wrote Annex-B header", "bytes", len(header))
		} else if len(packets) > 0 && !e.headerNoted {
			e.headerNoted = true
			e.logger.Debug("Encoder did not supply Annex-B headers before the first packet")
		}
	}

	for _, p := range packets {
		if err := e.writer.WritePacket(p.Data); err != nil {
			e.lastErr = err.Error()
			return err
		}
		e.stats.PacketsWritten++
		e.notify(p)
	}
	e.stats.BytesWritten = e.writer.BytesWritten()
	return nil
}

// AddPacketSink registers fn for every written packet and returns a function
// that removes it.
func (e *Encoder) AddPacketSink(fn PacketSink) func() {
	e.sinkMu.Lock()
	id := e.sinkID
	e.sinkID++
	e.sinks[id] = fn
	e.sinkMu.Unlock()
	return func() {
		e.sinkMu.Lock()
		delete(e.sinks, id)
		e.sinkMu.Unlock()
	}
}

func (e *Encoder) notify(p Packet) {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	for _, sink := range e.sinks {
		sink(e.params.Codec, p)
	}
}

// RequestKeyframe forces the next encoded frame to be a key frame.
func (e *Encoder) RequestKeyframe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.RequestKeyframe()
	}
}

// SequenceHeader returns the Annex-B codec configuration of the open
// session, or nil.
func (e *Encoder) SequenceHeader() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.SequenceHeader()
}

// Flush pushes buffered bitstream bytes to disk so size checks see them.
func (e *Encoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		return nil
	}
	return e.writer.Flush()
}

// Finalize drains the session, destroys it and closes the bitstream.
func (e *Encoder) Finalize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.session != nil {
		packets, err := e.session.Flush(ctx)
		if err != nil {
			errs = append(errs, err)
		} else if e.writer != nil {
			errs = append(errs, e.writePacketsLocked(packets))
		}
		e.session.Destroy()
		e.session = nil
	}
	if e.writer != nil && e.initialized {
		errs = append(errs, e.writer.Close())
		e.stats.BytesWritten = e.writer.BytesWritten()
		e.logger.Info("Encoder output finalized",
			"path", e.writer.Path(),
			"packets", e.stats.PacketsWritten,
			"bytes", e.stats.BytesWritten)
	}
	e.initialized = false
	return errors.Join(errs...)
}

// Initialized reports whether an output is open.
func (e *Encoder) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// OutputPath returns the bitstream path of the current or last output.
func (e *Encoder) OutputPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		return ""
	}
	return e.writer.Path()
}

// Codec returns the configured codec.
func (e *Encoder) Codec() Codec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Codec
}

// Stats returns counters for the current output.
func (e *Encoder) Stats() EncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// LastError returns the message of the most recent failure.
func (e *Encoder) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}
