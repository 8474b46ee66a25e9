package rig

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/smazurov/omnicapture/internal/frame"
)

// BT.709 luma weights.
const (
	kr = 0.2126
	kb = 0.0722
	kg = 1 - kr - kb
)

// EncoderPlanes converts p into CPU textures in the encoder input format:
// Y and interleaved UV planes for NV12 and P010 (limited range BT.709), a
// single packed plane for BGRA. Linear input is gamma encoded first.
func EncoderPlanes(p *frame.PixelData, format frame.PixelFormat, linear bool) ([]*frame.Texture, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid %dx%d pixel buffer", p.Width, p.Height)
	}
	if format != frame.FormatBGRA && (p.Width%2 != 0 || p.Height%2 != 0) {
		return nil, fmt.Errorf("%s needs even dimensions, got %dx%d", format, p.Width, p.Height)
	}

	rgb := func(x, y, c int) float64 {
		v := unit(p.Channel(x, y, c))
		if linear && p.Precision != frame.Precision8 {
			v = encodeGamma(v)
		}
		return v
	}

	switch format {
	case frame.FormatBGRA:
		return []*frame.Texture{bgraPlane(p, rgb)}, nil
	case frame.FormatP010:
		y, uv := yuvPlanes(p.Width, p.Height, rgb, 10)
		return []*frame.Texture{
			frame.NewTexture(p.Width, p.Height, format, y, nil),
			frame.NewTexture(p.Width/2, p.Height/2, format, uv, nil),
		}, nil
	default:
		y, uv := yuvPlanes(p.Width, p.Height, rgb, 8)
		return []*frame.Texture{
			frame.NewTexture(p.Width, p.Height, frame.FormatNV12, y, nil),
			frame.NewTexture(p.Width/2, p.Height/2, frame.FormatNV12, uv, nil),
		}, nil
	}
}

func unit(v float32) float64 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return math.Min(math.Max(float64(v), 0), 1)
}

func encodeGamma(c float64) float64 {
	if c <= 0.0031308 {
		return c * 12.92
	}
	return 1.055*math.Pow(c, 1/2.4) - 0.055
}

func bgraPlane(p *frame.PixelData, rgb func(x, y, c int) float64) *frame.Texture {
	data := make([]byte, p.Width*p.Height*4)
	for y := range p.Height {
		for x := range p.Width {
			i := (y*p.Width + x) * 4
			data[i] = uint8(math.Round(rgb(x, y, 2) * 255))
			data[i+1] = uint8(math.Round(rgb(x, y, 1) * 255))
			data[i+2] = uint8(math.Round(rgb(x, y, 0) * 255))
			data[i+3] = uint8(math.Round(unit(p.Channel(x, y, 3)) * 255))
		}
	}
	return frame.NewTexture(p.Width, p.Height, frame.FormatBGRA, data, nil)
}

// yuvPlanes returns the luma plane and the 2x2 subsampled, interleaved
// chroma plane. 10-bit samples are stored little endian in the high bits of
// 16-bit words.
func yuvPlanes(w, h int, rgb func(x, y, c int) float64, depth int) (yPlane, uvPlane []byte) {
	scale := float64(int(1) << (depth - 8))
	bytesPer := 1
	if depth > 8 {
		bytesPer = 2
	}
	put := func(buf []byte, i int, v float64) {
		if bytesPer == 1 {
			buf[i] = uint8(v)
			return
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v)<<(16-depth))
	}

	yPlane = make([]byte, w*h*bytesPer)
	uvPlane = make([]byte, w*h/2*bytesPer)

	for by := 0; by < h; by += 2 {
		for bx := 0; bx < w; bx += 2 {
			var cb, cr float64
			for dy := range 2 {
				for dx := range 2 {
					x, y := bx+dx, by+dy
					r, g, b := rgb(x, y, 0), rgb(x, y, 1), rgb(x, y, 2)
					luma := kr*r + kg*g + kb*b
					put(yPlane, y*w+x, math.Round((16+219*luma)*scale))
					cb += (b - luma) / (2 * (1 - kb))
					cr += (r - luma) / (2 * (1 - kr))
				}
			}
			ci := (by/2)*(w/2) + bx/2
			put(uvPlane, ci*2, math.Round((128+224*cb/4)*scale))
			put(uvPlane, ci*2+1, math.Round((128+224*cr/4)*scale))
		}
	}
	return yPlane, uvPlane
}
