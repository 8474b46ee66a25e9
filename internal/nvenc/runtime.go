// Package nvenc manages hardware encoder sessions: capability probing, the
// per-session state machine and writing the resulting Annex-B bitstream.
//
// The vendor API is reached through the Runtime interface so the same session
// logic drives the ffmpeg-backed runtime in production and an in-memory
// runtime in tests.
package nvenc

import (
	"context"

	"github.com/smazurov/omnicapture/internal/frame"
)

// Codec selects the compressed video format.
type Codec int

const (
	CodecH264 Codec = iota
	CodecHEVC
)

func (c Codec) String() string {
	if c == CodecHEVC {
		return "HEVC"
	}
	return "H264"
}

// DeviceKind is the graphics API family the encoder is bound to.
type DeviceKind int

const (
	DeviceCPU DeviceKind = iota
	DeviceD3D11
	DeviceD3D12
	DeviceCUDA
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceD3D11:
		return "D3D11"
	case DeviceD3D12:
		return "D3D12"
	case DeviceCUDA:
		return "CUDA"
	default:
		return "CPU"
	}
}

// Device is the graphics device a session encodes from.
type Device struct {
	Kind   DeviceKind
	Handle uintptr
}

// HasInteropChoice reports whether the device family offers both a native
// and a bridged path into the encoder.
func (d Device) HasInteropChoice() bool {
	return d.Kind == DeviceD3D12
}

// Interop is the strategy used to hand device textures to the encoder.
type Interop int

const (
	InteropDirect Interop = iota
	InteropNative
	InteropBridge
)

func (i Interop) String() string {
	switch i {
	case InteropNative:
		return "Native"
	case InteropBridge:
		return "Bridge"
	default:
		return "Direct"
	}
}

// CodecCaps are the static, session-independent capabilities of a codec.
type CodecCaps struct {
	Supports10Bit                bool `json:"supports10Bit"`
	SupportsBFrames              bool `json:"supportsBFrames"`
	SupportsYUV444               bool `json:"supportsYUV444"`
	SupportsLookahead            bool `json:"supportsLookahead"`
	SupportsAdaptiveQuantization bool `json:"supportsAdaptiveQuantization"`
	MaxWidth                     int  `json:"maxWidth"`
	MaxHeight                    int  `json:"maxHeight"`
}

// Picture describes one submitted frame.
type Picture struct {
	FrameIndex    uint32
	Timestamp     float64
	ForceKeyframe bool
}

// PictureType is the coded type reported for an output access unit.
type PictureType int

const (
	PictureP PictureType = iota
	PictureB
	PictureI
	PictureIDR
)

// Bitstream is one locked access unit as reported by the runtime.
type Bitstream struct {
	Data        []byte
	PictureType PictureType
	Timestamp   float64
	FrameIndex  uint32
}

// ResourceHandle identifies a texture registered with a runtime session.
type ResourceHandle uintptr

// InputHandle identifies a mapped, encoder-readable input.
type InputHandle uintptr

// Runtime is a loaded vendor encoder runtime.
type Runtime interface {
	Name() string
	// ResolveAPIs checks that every entry point the session needs exists.
	ResolveAPIs(ctx context.Context) error
	// StaticCaps queries capabilities without opening a session. An error
	// means the codec is not supported at all.
	StaticCaps(ctx context.Context, codec Codec) (CodecCaps, error)
	// OpenSession creates an encoder session bound to device.
	OpenSession(ctx context.Context, codec Codec, device Device, interop Interop) (RuntimeSession, error)
}

// RuntimeSession is one vendor encoder session. Methods are called from a
// single goroutine.
type RuntimeSession interface {
	PresetSupported(codec Codec) error
	Initialize(ctx context.Context, p Parameters) error
	// SequenceParams returns the codec configuration NAL units, or nil when
	// they are not available yet.
	SequenceParams() ([]byte, error)
	Register(tex *frame.Texture) (ResourceHandle, error)
	Map(res ResourceHandle) (InputHandle, error)
	Submit(ctx context.Context, inputs []InputHandle, pic Picture) error
	// Lock returns the access units completed so far. Asynchronous runtimes
	// may return none.
	Lock(ctx context.Context) ([]Bitstream, error)
	Unlock() error
	Unmap(in InputHandle) error
	Unregister(res ResourceHandle) error
	// EndOfStream signals the end of input and returns every buffered
	// access unit.
	EndOfStream(ctx context.Context) ([]Bitstream, error)
	Close() error
}

// Loader locates and loads a runtime. An empty location means the system
// default.
type Loader interface {
	Load(ctx context.Context, location string) (Runtime, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, location string) (Runtime, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, location string) (Runtime, error) {
	return f(ctx, location)
}

// SearchPath lists where a runtime may be found.
type SearchPath struct {
	LibraryPath      string
	Directory        string
	BundledDirectory string
}

// Candidates returns the locations to try in order: explicit library path,
// explicit directory, bundled directory, then the system default ("").
func (s SearchPath) Candidates() []string {
	var out []string
	for _, c := range []string{s.LibraryPath, s.Directory, s.BundledDirectory} {
		if c != "" {
			out = append(out, c)
		}
	}
	return append(out, "")
}
