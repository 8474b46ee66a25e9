// Package frame defines the data carried through the capture pipeline: captured
// frames, their pixel payloads, encoder input textures and audio packets.
package frame

import (
	"context"
	"sync/atomic"

	"github.com/x448/float16"
)

// Metadata identifies a frame within a capture session.
type Metadata struct {
	FrameIndex uint32  `json:"index"`
	Timecode   float64 `json:"timecode"`
	KeyFrame   bool    `json:"keyFrame"`
}

// AudioPacket is a block of interleaved 16-bit PCM samples.
type AudioPacket struct {
	Timestamp   float64
	SampleRate  int
	NumChannels int
	PCM16       []int16
}

// Duration returns the playback length of the packet in seconds.
func (p AudioPacket) Duration() float64 {
	if p.SampleRate <= 0 || p.NumChannels <= 0 {
		return 0
	}
	return float64(len(p.PCM16)) / float64(p.SampleRate*max(p.NumChannels, 1))
}

// Precision is the per-channel storage of a pixel buffer.
type Precision int

const (
	Precision8 Precision = iota
	Precision16F
	Precision32F
)

func (p Precision) String() string {
	switch p {
	case Precision16F:
		return "16F"
	case Precision32F:
		return "32F"
	default:
		return "8"
	}
}

// PixelData is an RGBA pixel buffer. Exactly one of RGBA8, RGBA16F or RGBA32F
// is populated, selected by Precision.
type PixelData struct {
	Width     int
	Height    int
	Precision Precision
	RGBA8     []uint8
	RGBA16F   []float16.Float16
	RGBA32F   []float32
}

// NewPixelData8 wraps an 8-bit RGBA buffer.
func NewPixelData8(width, height int, pix []uint8) *PixelData {
	return &PixelData{Width: width, Height: height, Precision: Precision8, RGBA8: pix}
}

// NewPixelData16F wraps a half-float RGBA buffer.
func NewPixelData16F(width, height int, pix []float16.Float16) *PixelData {
	return &PixelData{Width: width, Height: height, Precision: Precision16F, RGBA16F: pix}
}

// NewPixelData32F wraps a float RGBA buffer.
func NewPixelData32F(width, height int, pix []float32) *PixelData {
	return &PixelData{Width: width, Height: height, Precision: Precision32F, RGBA32F: pix}
}

// Valid reports whether the populated buffer matches the declared dimensions.
func (p *PixelData) Valid() bool {
	if p == nil || p.Width <= 0 || p.Height <= 0 {
		return false
	}
	n := p.Width * p.Height * 4
	switch p.Precision {
	case Precision8:
		return len(p.RGBA8) == n
	case Precision16F:
		return len(p.RGBA16F) == n
	case Precision32F:
		return len(p.RGBA32F) == n
	}
	return false
}

// Channel returns channel c of pixel (x, y) as a float in the buffer's own
// scale (0..1 for linear buffers, 0..255 mapped to 0..1 for 8-bit).
func (p *PixelData) Channel(x, y, c int) float32 {
	i := (y*p.Width+x)*4 + c
	switch p.Precision {
	case Precision16F:
		return p.RGBA16F[i].Float32()
	case Precision32F:
		return p.RGBA32F[i]
	default:
		return float32(p.RGBA8[i]) / 255
	}
}

// PixelFormat is the layout of an encoder input texture.
type PixelFormat int

const (
	FormatNV12 PixelFormat = iota
	FormatP010
	FormatBGRA
)

func (f PixelFormat) String() string {
	switch f {
	case FormatP010:
		return "P010"
	case FormatBGRA:
		return "BGRA"
	default:
		return "NV12"
	}
}

// Texture is a reference-counted handle to an image resource. GPU-backed
// textures carry an opaque Handle; CPU-backed textures expose Data.
type Texture struct {
	Handle uintptr
	Width  int
	Height int
	Format PixelFormat
	Data   []byte

	refs      atomic.Int32
	onRelease func()
}

// NewTexture returns a texture holding one reference. onRelease may be nil.
func NewTexture(width, height int, format PixelFormat, data []byte, onRelease func()) *Texture {
	t := &Texture{Width: width, Height: height, Format: format, Data: data, onRelease: onRelease}
	t.refs.Store(1)
	return t
}

// Retain adds a reference and returns the texture.
func (t *Texture) Retain() *Texture {
	if t != nil {
		t.refs.Add(1)
	}
	return t
}

// Release drops a reference. The release callback runs when the count hits zero.
func (t *Texture) Release() {
	if t == nil {
		return
	}
	if t.refs.Add(-1) == 0 && t.onRelease != nil {
		t.onRelease()
	}
}

// Refs returns the current reference count.
func (t *Texture) Refs() int32 {
	return t.refs.Load()
}

// Fence signals when a GPU producer has finished writing a texture.
type Fence interface {
	Wait(ctx context.Context) error
}

// ClosedFence is a fence that is already signalled.
type ClosedFence struct{}

// Wait returns immediately.
func (ClosedFence) Wait(context.Context) error { return nil }

// CapturedFrame is one converted frame handed from the capture tick to the
// drain goroutine. Ownership moves with the pointer; the receiver releases it.
type CapturedFrame struct {
	Metadata        Metadata
	Pixels          *PixelData
	Texture         *Texture
	ReadyFence      Fence
	EncoderPlanes   []*Texture
	AudioPackets    []AudioPacket
	AuxiliaryLayers map[string]*PixelData
	Linear          bool
	UsedCPUFallback bool
}

// HasEncoderInput reports whether the frame carries planes for the hardware encoder.
func (f *CapturedFrame) HasEncoderInput() bool {
	return f != nil && len(f.EncoderPlanes) > 0
}

// Release drops every texture reference held by the frame.
func (f *CapturedFrame) Release() {
	if f == nil {
		return
	}
	f.Texture.Release()
	f.Texture = nil
	for _, p := range f.EncoderPlanes {
		p.Release()
	}
	f.EncoderPlanes = nil
}

// RingBufferStats is a snapshot of ring buffer counters.
type RingBufferStats struct {
	Pending int32 `json:"pending"`
	Dropped int32 `json:"dropped"`
	Blocked int32 `json:"blocked"`
}
