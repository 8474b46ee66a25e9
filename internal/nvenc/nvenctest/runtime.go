// Package nvenctest provides a deterministic in-memory encoder runtime.
package nvenctest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/nvenc"
)

// Header is the sequence header every session reports, without start code.
var Header = []byte{0x67, 0x42, 0x00, 0x1f, 0x68, 0xce, 0x3c, 0x80}

// Counters records calls made against the runtime.
type Counters struct {
	Opens       int
	Closes      int
	Initializes int
	Registers   int
	Unregisters int
	Maps        int
	Unmaps      int
	Submits     int
	Locks       int
	Unlocks     int
	Keyframes   int
}

// Runtime is a fake nvenc.Runtime. Zero value is usable and succeeds at
// everything; set the failure fields to inject errors.
type Runtime struct {
	mu sync.Mutex

	// PacketSize is the payload size of every emitted packet (default 100).
	PacketSize int
	// Caps is returned by StaticCaps for supported codecs.
	Caps nvenc.CodecCaps
	// NoSequenceParams makes SequenceParams return nil until the first frame.
	NoSequenceParams bool

	ResolveErr    error
	UnsupportedH  map[nvenc.Codec]error
	OpenErr       map[nvenc.Interop]error
	PresetErr     error
	InitErr       map[string]error
	SubmitErr     error
	SubmitErrAt   map[uint32]error
	MapErr        error
	LockErr       error
	Counters      Counters
	InteropsTried []nvenc.Interop
	Submitted     []nvenc.Picture
}

// New returns a runtime that succeeds at everything.
func New() *Runtime {
	return &Runtime{PacketSize: 100, Caps: nvenc.CodecCaps{Supports10Bit: true, MaxWidth: 8192, MaxHeight: 8192}}
}

// FailCombination makes Initialize fail for codec and format.
func (r *Runtime) FailCombination(codec nvenc.Codec, format frame.PixelFormat, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InitErr == nil {
		r.InitErr = make(map[string]error)
	}
	r.InitErr[comboKey(codec, format)] = err
}

// FailCodec makes StaticCaps reject codec.
func (r *Runtime) FailCodec(codec nvenc.Codec, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UnsupportedH == nil {
		r.UnsupportedH = make(map[nvenc.Codec]error)
	}
	r.UnsupportedH[codec] = err
}

// FailInterop makes OpenSession fail for strategy.
func (r *Runtime) FailInterop(i nvenc.Interop, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.OpenErr == nil {
		r.OpenErr = make(map[nvenc.Interop]error)
	}
	r.OpenErr[i] = err
}

// Snapshot returns a copy of the counters.
func (r *Runtime) Snapshot() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Counters
}

// OpenAttempts returns how many OpenSession calls were made, failed ones
// included.
func (r *Runtime) OpenAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.InteropsTried)
}

func comboKey(codec nvenc.Codec, format frame.PixelFormat) string {
	return codec.String() + "/" + format.String()
}

// Loader returns a loader that yields r for every location.
func (r *Runtime) Loader() nvenc.Loader {
	return nvenc.LoaderFunc(func(context.Context, string) (nvenc.Runtime, error) {
		return r, nil
	})
}

// Name implements nvenc.Runtime.
func (r *Runtime) Name() string { return "fake" }

// ResolveAPIs implements nvenc.Runtime.
func (r *Runtime) ResolveAPIs(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResolveErr
}

// StaticCaps implements nvenc.Runtime.
func (r *Runtime) StaticCaps(_ context.Context, codec nvenc.Codec) (nvenc.CodecCaps, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.UnsupportedH[codec]; err != nil {
		return nvenc.CodecCaps{}, err
	}
	return r.Caps, nil
}

// OpenSession implements nvenc.Runtime.
func (r *Runtime) OpenSession(_ context.Context, codec nvenc.Codec, _ nvenc.Device, interop nvenc.Interop) (nvenc.RuntimeSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InteropsTried = append(r.InteropsTried, interop)
	if err := r.OpenErr[interop]; err != nil {
		return nil, err
	}
	r.Counters.Opens++
	return &session{rt: r, codec: codec, resources: make(map[nvenc.ResourceHandle]*frame.Texture)}, nil
}

type session struct {
	rt        *Runtime
	codec     nvenc.Codec
	params    nvenc.Parameters
	ready     bool
	locked    bool
	pending   []nvenc.Bitstream
	resources map[nvenc.ResourceHandle]*frame.Texture
	next      nvenc.ResourceHandle
	frames    int
}

func (s *session) PresetSupported(nvenc.Codec) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	return s.rt.PresetErr
}

func (s *session) Initialize(_ context.Context, p nvenc.Parameters) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if err := s.rt.InitErr[comboKey(p.Codec, p.Format)]; err != nil {
		return err
	}
	s.rt.Counters.Initializes++
	s.params = p
	s.ready = true
	return nil
}

func (s *session) SequenceParams() ([]byte, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if !s.ready {
		return nil, errors.New("not initialised")
	}
	if s.rt.NoSequenceParams && s.frames == 0 {
		return nil, nil
	}
	return append([]byte(nil), Header...), nil
}

func (s *session) Register(tex *frame.Texture) (nvenc.ResourceHandle, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if tex == nil {
		return 0, errors.New("nil texture")
	}
	s.next++
	s.resources[s.next] = tex
	s.rt.Counters.Registers++
	return s.next, nil
}

func (s *session) Map(res nvenc.ResourceHandle) (nvenc.InputHandle, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if s.rt.MapErr != nil {
		return 0, s.rt.MapErr
	}
	if _, ok := s.resources[res]; !ok {
		return 0, fmt.Errorf("unknown resource %d", res)
	}
	s.rt.Counters.Maps++
	return nvenc.InputHandle(res), nil
}

func (s *session) Submit(_ context.Context, inputs []nvenc.InputHandle, pic nvenc.Picture) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if err := s.rt.SubmitErrAt[pic.FrameIndex]; err != nil {
		return err
	}
	if s.rt.SubmitErr != nil {
		return s.rt.SubmitErr
	}
	if len(inputs) == 0 {
		return errors.New("no inputs")
	}
	s.rt.Counters.Submits++
	s.rt.Submitted = append(s.rt.Submitted, pic)
	s.frames++

	size := s.rt.PacketSize
	if size <= 0 {
		size = 100
	}
	pt := nvenc.PictureP
	if pic.ForceKeyframe {
		pt = nvenc.PictureIDR
		s.rt.Counters.Keyframes++
	}
	data := make([]byte, size)
	data[len(data)-1] = byte(pic.FrameIndex)
	s.pending = append(s.pending, nvenc.Bitstream{
		Data:        data,
		PictureType: pt,
		Timestamp:   pic.Timestamp,
		FrameIndex:  pic.FrameIndex,
	})
	return nil
}

func (s *session) Lock(context.Context) ([]nvenc.Bitstream, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if s.rt.LockErr != nil {
		return nil, s.rt.LockErr
	}
	s.rt.Counters.Locks++
	s.locked = true
	out := s.pending
	s.pending = nil
	return out, nil
}

func (s *session) Unlock() error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	if !s.locked {
		return errors.New("bitstream not locked")
	}
	s.locked = false
	s.rt.Counters.Unlocks++
	return nil
}

func (s *session) Unmap(nvenc.InputHandle) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	s.rt.Counters.Unmaps++
	return nil
}

func (s *session) Unregister(res nvenc.ResourceHandle) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	delete(s.resources, res)
	s.rt.Counters.Unregisters++
	return nil
}

func (s *session) EndOfStream(context.Context) ([]nvenc.Bitstream, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out, nil
}

func (s *session) Close() error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	s.rt.Counters.Closes++
	return nil
}
