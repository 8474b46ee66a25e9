package rig

import (
	"context"
	"sync"

	"github.com/x448/float16"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/settings"
)

// bars are the colors of the synthetic test pattern, left to right.
var bars = [8][3]float32{
	{1, 1, 1},
	{1, 1, 0},
	{0, 1, 1},
	{0, 1, 0},
	{1, 0, 1},
	{1, 0, 0},
	{0, 0, 1},
	{0, 0, 0},
}

// ScrollPixelsPerSecond is how fast the synthetic pattern moves.
const ScrollPixelsPerSecond = 120

// Synthetic renders scrolling color bars. The right eye is shifted by the
// interpupillary distance in pixels so stereo layouts are distinguishable.
type Synthetic struct {
	mu         sync.Mutex
	configured bool
	settings   settings.Settings
	eye        settings.Size
	precision  frame.Precision
	rendered   int
}

// NewSynthetic returns an unconfigured synthetic rig.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// PrecisionFor maps the HDR precision setting to a pixel precision.
func PrecisionFor(p settings.HDRPrecision) frame.Precision {
	switch p {
	case settings.PrecisionHalfFloat:
		return frame.Precision16F
	case settings.PrecisionFullFloat:
		return frame.Precision32F
	default:
		return frame.Precision8
	}
}

// Configure implements Rig.
func (r *Synthetic) Configure(s settings.Settings) error {
	if err := settings.ValidateResolution(&s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
	r.eye = s.PerEyeResolution()
	r.precision = PrecisionFor(s.HDRPrecision)
	r.configured = true
	return nil
}

// Rendered returns the number of ticks captured since creation.
func (r *Synthetic) Rendered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendered
}

// Capture implements Rig.
func (r *Synthetic) Capture(ctx context.Context, t float64) (Eyes, error) {
	if err := ctx.Err(); err != nil {
		return Eyes{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return Eyes{}, ErrNotConfigured
	}

	offset := int(t * ScrollPixelsPerSecond)
	eyes := Eyes{Left: r.render(offset)}
	if r.settings.IsStereo() {
		shift := int(r.settings.InterPupillaryDistanceAt(t))
		eyes.Right = r.render(offset + shift)
	}
	if len(r.settings.AuxiliaryPasses) > 0 {
		eyes.Layers = make(map[string]*frame.PixelData, len(r.settings.AuxiliaryPasses))
		for i, name := range r.settings.AuxiliaryPasses {
			eyes.Layers[name] = gradient(r.eye, i)
		}
	}
	r.rendered++
	return eyes, nil
}

func (r *Synthetic) render(offset int) *frame.PixelData {
	w, h := r.eye.Width, r.eye.Height
	d := newPixels(w, h, r.precision)
	barWidth := max(1, w/len(bars))

	for x := range w {
		c := bars[((x+offset)/barWidth)%len(bars)]
		for y := range h {
			i := (y*w + x) * 4
			switch r.precision {
			case frame.Precision16F:
				d.RGBA16F[i] = float16.Fromfloat32(c[0])
				d.RGBA16F[i+1] = float16.Fromfloat32(c[1])
				d.RGBA16F[i+2] = float16.Fromfloat32(c[2])
				d.RGBA16F[i+3] = float16.Fromfloat32(1)
			case frame.Precision32F:
				d.RGBA32F[i], d.RGBA32F[i+1], d.RGBA32F[i+2], d.RGBA32F[i+3] = c[0], c[1], c[2], 1
			default:
				d.RGBA8[i] = uint8(c[0] * 255)
				d.RGBA8[i+1] = uint8(c[1] * 255)
				d.RGBA8[i+2] = uint8(c[2] * 255)
				d.RGBA8[i+3] = 255
			}
		}
	}
	return d
}

// gradient is an 8-bit vertical ramp used for auxiliary passes.
func gradient(size settings.Size, seed int) *frame.PixelData {
	w, h := size.Width, size.Height
	pix := make([]uint8, w*h*4)
	for y := range h {
		v := uint8((y*255)/max(1, h-1) + seed*17)
		for x := range w {
			i := (y*w + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = v, v, v, 255
		}
	}
	return frame.NewPixelData8(w, h, pix)
}
