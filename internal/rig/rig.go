// Package rig defines the capture rig and frame converter the pipeline pulls
// frames from, and provides a synthetic implementation of both for headless
// capture.
//
// A Rig renders one image per eye. A Converter packs the eyes into the output
// layout and, for hardware output, produces the encoder input planes.
package rig

import (
	"context"
	"errors"
	"fmt"

	"github.com/x448/float16"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/settings"
)

// ErrNotConfigured is returned by Capture before Configure succeeded.
var ErrNotConfigured = errors.New("rig is not configured")

// Eyes holds the per-eye images of one tick. Right is nil for mono capture.
type Eyes struct {
	Left  *frame.PixelData
	Right *frame.PixelData
	// Layers are auxiliary passes rendered alongside the left eye.
	Layers map[string]*frame.PixelData
}

// Rig renders eye images.
type Rig interface {
	Configure(s settings.Settings) error
	// Capture renders the eyes at t seconds since the capture started.
	Capture(ctx context.Context, t float64) (Eyes, error)
}

// Conversion is the output of a Converter. Pixels is always set.
// EncoderPlanes are set for hardware output; Texture only by converters that
// render on a device.
type Conversion struct {
	Pixels          *frame.PixelData
	Texture         *frame.Texture
	ReadyFence      frame.Fence
	EncoderPlanes   []*frame.Texture
	Linear          bool
	Precision       frame.Precision
	UsedCPUFallback bool
}

// Release drops the texture references held by c.
func (c *Conversion) Release() {
	c.Texture.Release()
	for _, p := range c.EncoderPlanes {
		p.Release()
	}
	c.Texture = nil
	c.EncoderPlanes = nil
}

// Converter turns eye images into an output frame.
type Converter interface {
	Name() string
	Convert(ctx context.Context, s settings.Settings, eyes Eyes) (Conversion, error)
}

// Variant names the projection family a converter produces.
type Variant string

const (
	VariantEquirect Variant = "Equirectangular"
	VariantFisheye  Variant = "Fisheye"
	VariantPlanar   Variant = "Planar"
)

// VariantFor picks the converter variant for s. Fisheye output that is
// converted to equirect uses the equirect variant; projections without a
// dedicated converter use equirect as well.
func VariantFor(s settings.Settings) Variant {
	switch {
	case s.IsPlanar():
		return VariantPlanar
	case s.IsFisheye() && !s.ShouldConvertFisheyeToEquirect():
		return VariantFisheye
	default:
		return VariantEquirect
	}
}

// ConverterFor returns the converter of the variant selected by s.
func ConverterFor(s settings.Settings) Converter {
	return &PackingConverter{variant: VariantFor(s)}
}

// PackingConverter places the eyes side by side or top to bottom in the
// output frame. It does no reprojection; the rig is expected to deliver
// images that are already in the target projection.
type PackingConverter struct {
	variant Variant
}

// NewPackingConverter returns a converter for variant.
func NewPackingConverter(variant Variant) *PackingConverter {
	return &PackingConverter{variant: variant}
}

// Name implements Converter.
func (c *PackingConverter) Name() string { return string(c.variant) }

// Convert implements Converter.
func (c *PackingConverter) Convert(ctx context.Context, s settings.Settings, eyes Eyes) (Conversion, error) {
	if err := ctx.Err(); err != nil {
		return Conversion{}, err
	}
	if !eyes.Left.Valid() {
		return Conversion{}, errors.New("left eye image is missing or malformed")
	}
	if s.IsStereo() && !eyes.Right.Valid() {
		return Conversion{}, errors.New("right eye image is missing or malformed")
	}

	out := s.OutputResolution()
	packed, err := pack(s, eyes, out)
	if err != nil {
		return Conversion{}, err
	}

	conv := Conversion{
		Pixels:     packed,
		Linear:     packed.Precision != frame.Precision8 || s.Gamma == settings.GammaLinear,
		Precision:  packed.Precision,
		ReadyFence: frame.ClosedFence{},
	}

	if s.OutputFormat == settings.OutputNVENC {
		planes, err := EncoderPlanes(packed, inputFormat(s.ColorFormat), conv.Linear)
		if err != nil {
			return Conversion{}, fmt.Errorf("%s conversion: %w", c.variant, err)
		}
		conv.EncoderPlanes = planes
		conv.UsedCPUFallback = true
	}
	return conv, nil
}

func inputFormat(c settings.ColorFormat) frame.PixelFormat {
	switch c {
	case settings.ColorP010:
		return frame.FormatP010
	case settings.ColorBGRA:
		return frame.FormatBGRA
	default:
		return frame.FormatNV12
	}
}

// pack copies the eyes into a frame of size out. Space left over by
// alignment padding stays black.
func pack(s settings.Settings, eyes Eyes, out settings.Size) (*frame.PixelData, error) {
	left := eyes.Left
	dst := newPixels(out.Width, out.Height, left.Precision)

	blit(dst, left, 0, 0)
	if s.IsStereo() {
		right := eyes.Right
		if right.Precision != left.Precision {
			return nil, fmt.Errorf("eye precision mismatch: %s and %s", left.Precision, right.Precision)
		}
		if s.StereoLayout == settings.LayoutSideBySide {
			blit(dst, right, out.Width/2, 0)
		} else {
			blit(dst, right, 0, out.Height/2)
		}
	}
	return dst, nil
}

func newPixels(w, h int, p frame.Precision) *frame.PixelData {
	d := &frame.PixelData{Width: w, Height: h, Precision: p}
	switch p {
	case frame.Precision16F:
		d.RGBA16F = make([]float16.Float16, w*h*4)
	case frame.Precision32F:
		d.RGBA32F = make([]float32, w*h*4)
	default:
		d.RGBA8 = make([]uint8, w*h*4)
	}
	return d
}

// blit copies src into dst at (x0, y0), clipped to dst.
func blit(dst, src *frame.PixelData, x0, y0 int) {
	w := min(src.Width, dst.Width-x0)
	h := min(src.Height, dst.Height-y0)
	if w <= 0 || h <= 0 {
		return
	}
	for y := range h {
		so := y * src.Width * 4
		do := ((y0+y)*dst.Width + x0) * 4
		n := w * 4
		switch dst.Precision {
		case frame.Precision16F:
			copy(dst.RGBA16F[do:do+n], src.RGBA16F[so:so+n])
		case frame.Precision32F:
			copy(dst.RGBA32F[do:do+n], src.RGBA32F[so:so+n])
		default:
			copy(dst.RGBA8[do:do+n], src.RGBA8[so:so+n])
		}
	}
}
