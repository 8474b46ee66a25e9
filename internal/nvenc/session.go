package nvenc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
)

var (
	// ErrNotOpen is returned by operations that need an open session.
	ErrNotOpen = errors.New("encoder is not open")
	// ErrNotInitialized is returned by encode calls before Initialize.
	ErrNotInitialized = errors.New("encoder has not been initialised")
	// ErrAlreadyInitialized is returned by a second Initialize on one open.
	ErrAlreadyInitialized = errors.New("encoder is already initialised")
	// ErrNoInput is returned when a frame carries no encoder planes.
	ErrNoInput = errors.New("frame has no encoder input")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateInitialized
	StateFlushed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateInitialized:
		return "Initialized"
	case StateFlushed:
		return "Flushed"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Closed"
	}
}

// Packet is one encoded access unit.
type Packet struct {
	Data       []byte
	KeyFrame   bool
	Timestamp  float64
	FrameIndex uint32
}

// Session drives one runtime encoder session through
// Closed -> Open -> Initialized -> Flushed -> Destroyed.
type Session struct {
	runtime Runtime
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	codec     Codec
	interop   Interop
	preferred Interop
	params    Parameters
	rs        RuntimeSession
	header    []byte
	lastErr   string

	keyframeRequested bool
}

// NewSession returns a closed session backed by rt.
func NewSession(rt Runtime) *Session {
	return &Session{
		runtime:   rt,
		logger:    logging.GetLogger("nvenc"),
		preferred: InteropNative,
	}
}

// SetPreferredInterop selects the first strategy tried for devices that offer
// a choice. Native falls back to Bridge; Bridge is used alone.
func (s *Session) SetPreferredInterop(i Interop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferred = i
}

// fail records msg as the last error and returns it wrapped around cause.
// Callers hold s.mu.
func (s *Session) fail(cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	s.lastErr = msg
	if cause != nil {
		return fmt.Errorf("%s: %w", msg, cause)
	}
	return errors.New(msg)
}

// Open creates the runtime session. A session that is already open is
// destroyed first.
func (s *Session) Open(ctx context.Context, codec Codec, device Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateOpen || s.state == StateInitialized || s.state == StateFlushed {
		s.destroyLocked()
	}
	s.lastErr = ""
	s.header = nil

	if s.runtime == nil {
		return s.fail(nil, "Failed to open NVENC session – NVENC runtime is unavailable.")
	}

	strategies := []Interop{InteropDirect}
	if device.HasInteropChoice() {
		strategies = []Interop{s.preferred}
		if s.preferred == InteropNative {
			strategies = append(strategies, InteropBridge)
		}
	}

	var lastErr error
	for i, strategy := range strategies {
		rs, err := s.runtime.OpenSession(ctx, codec, device, strategy)
		if err == nil {
			s.rs = rs
			s.codec = codec
			s.interop = strategy
			s.state = StateOpen
			s.logger.Debug("Encoder session opened", "codec", codec, "device", device.Kind, "interop", strategy)
			return nil
		}
		lastErr = err
		if i+1 < len(strategies) {
			s.logger.Warn("Encoder interop failed, retrying with bridge",
				"interop", strategy, "error", err)
		}
	}
	return s.fail(lastErr, "Failed to open NVENC session")
}

// ValidatePreset confirms the runtime accepts the preset for codec.
func (s *Session) ValidatePreset(codec Codec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rs == nil || s.state != StateOpen {
		return s.fail(ErrNotOpen, "Cannot validate NVENC preset configuration – encoder is not open.")
	}
	if err := s.rs.PresetSupported(codec); err != nil {
		return s.fail(err, "NVENC preset validation failed for %s", codec)
	}
	return nil
}

// Initialize configures the encoder. It may be called once per Open.
func (s *Session) Initialize(ctx context.Context, p Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpen:
	case StateInitialized, StateFlushed:
		return s.fail(ErrAlreadyInitialized, "Cannot initialise NVENC session – encoder is already initialised.")
	default:
		return s.fail(ErrNotOpen, "Cannot initialise NVENC session – encoder is not open.")
	}

	if p.Width <= 0 || p.Height <= 0 {
		return s.fail(nil, "Cannot initialise NVENC session – invalid size %dx%d.", p.Width, p.Height)
	}
	p.Codec = s.codec
	p.GOPLength = max(1, p.GOPLength)

	if err := s.rs.Initialize(ctx, p); err != nil {
		return s.fail(err, "Failed to initialise NVENC session")
	}
	s.params = p
	s.state = StateInitialized
	s.keyframeRequested = true
	s.captureHeaderLocked()
	return nil
}

// captureHeaderLocked stores the codec configuration the first time the
// runtime provides it.
func (s *Session) captureHeaderLocked() {
	if s.header != nil || s.rs == nil {
		return
	}
	data, err := s.rs.SequenceParams()
	if err != nil {
		s.logger.Debug("Sequence parameters unavailable", "error", err)
		return
	}
	s.header = WithStartCode(data)
}

// EncodeFrame submits one frame and returns the access units the runtime
// completed. Every registered, mapped or locked resource is released before
// returning, on success and failure alike.
func (s *Session) EncodeFrame(ctx context.Context, planes []*frame.Texture, meta frame.Metadata) (packets []Packet, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		if s.state == StateOpen {
			return nil, s.fail(ErrNotInitialized, "Cannot encode – NVENC session has not been initialised.")
		}
		return nil, s.fail(ErrNotOpen, "Cannot encode – encoder is not open.")
	}
	if len(planes) == 0 {
		return nil, s.fail(ErrNoInput, "Cannot encode frame %d", meta.FrameIndex)
	}

	inputs := make([]InputHandle, 0, len(planes))
	for _, plane := range planes {
		res, regErr := s.rs.Register(plane)
		if regErr != nil {
			return nil, s.fail(regErr, "Failed to register input texture with NVENC")
		}
		defer func() {
			if uerr := s.rs.Unregister(res); uerr != nil && err == nil {
				err = s.fail(uerr, "Failed to unregister input texture")
			}
		}()

		in, mapErr := s.rs.Map(res)
		if mapErr != nil {
			return nil, s.fail(mapErr, "Failed to map input texture for NVENC encoding")
		}
		defer func() {
			if uerr := s.rs.Unmap(in); uerr != nil && err == nil {
				err = s.fail(uerr, "Failed to unmap input texture")
			}
		}()
		inputs = append(inputs, in)
	}

	pic := Picture{
		FrameIndex:    meta.FrameIndex,
		Timestamp:     meta.Timecode,
		ForceKeyframe: s.keyframeRequested || meta.FrameIndex%uint32(s.params.GOPLength) == 0,
	}
	if err := s.rs.Submit(ctx, inputs, pic); err != nil {
		return nil, s.fail(err, "NVENC picture submission failed")
	}
	s.keyframeRequested = false

	locked, lockErr := s.rs.Lock(ctx)
	if lockErr != nil {
		return nil, s.fail(lockErr, "Failed to lock NVENC bitstream")
	}
	defer func() {
		if uerr := s.rs.Unlock(); uerr != nil && err == nil {
			err = s.fail(uerr, "Failed to unlock NVENC bitstream")
		}
	}()

	packets = extractPackets(locked)
	s.captureHeaderLocked()
	return packets, nil
}

func extractPackets(units []Bitstream) []Packet {
	packets := make([]Packet, 0, len(units))
	for _, u := range units {
		if len(u.Data) == 0 {
			continue
		}
		packets = append(packets, Packet{
			Data:       u.Data,
			KeyFrame:   u.PictureType == PictureIDR || u.PictureType == PictureI,
			Timestamp:  u.Timestamp,
			FrameIndex: u.FrameIndex,
		})
	}
	return packets
}

// RequestKeyframe forces the next submitted picture to be a key frame. The
// first picture after Initialize is always forced.
func (s *Session) RequestKeyframe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyframeRequested = true
}

// SequenceHeader returns the Annex-B codec configuration, or nil when the
// runtime has not provided it yet.
func (s *Session) SequenceHeader() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// Flush signals end of stream and returns the remaining access units.
func (s *Session) Flush(ctx context.Context) ([]Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		return nil, nil
	}
	units, err := s.rs.EndOfStream(ctx)
	s.state = StateFlushed
	if err != nil {
		return nil, s.fail(err, "NVENC flush failed")
	}
	packets := extractPackets(units)
	s.captureHeaderLocked()
	return packets, nil
}

// Destroy releases the runtime session. Calling it on a closed or destroyed
// session does nothing.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyLocked()
}

func (s *Session) destroyLocked() {
	if s.rs != nil {
		if err := s.rs.Close(); err != nil {
			s.logger.Warn("Encoder session close failed", "error", err)
		}
		s.rs = nil
	}
	if s.state != StateClosed {
		s.state = StateDestroyed
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Interop returns the strategy chosen by the last Open.
func (s *Session) Interop() Interop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interop
}

// Parameters returns the parameters passed to Initialize.
func (s *Session) Parameters() Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// LastError returns the message of the most recent failure.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
