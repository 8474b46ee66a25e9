package imagewriter

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/settings"
)

const pngCompression = png.BestSpeed

var errInvalidPixels = errors.New("pixel buffer does not match its dimensions")

// toImage converts a pixel buffer to an image ready for encoding. Deep
// output is a 16-bit image of the clamped values; otherwise linear float
// data is sRGB encoded down to 8 bits.
func toImage(p *frame.PixelData, linear, deep bool) (image.Image, error) {
	if !p.Valid() {
		return nil, errInvalidPixels
	}
	rect := image.Rect(0, 0, p.Width, p.Height)

	if p.Precision == frame.Precision8 && !deep {
		img := image.NewNRGBA(rect)
		copy(img.Pix, p.RGBA8)
		return img, nil
	}

	if deep {
		img := image.NewNRGBA64(rect)
		for y := range p.Height {
			for x := range p.Width {
				img.SetNRGBA64(x, y, color.NRGBA64{
					R: unit16(p.Channel(x, y, 0)),
					G: unit16(p.Channel(x, y, 1)),
					B: unit16(p.Channel(x, y, 2)),
					A: unit16(p.Channel(x, y, 3)),
				})
			}
		}
		return img, nil
	}

	img := image.NewNRGBA(rect)
	conv := unit8
	if linear && p.Precision != frame.Precision8 {
		conv = srgb8
	}
	for y := range p.Height {
		for x := range p.Width {
			img.SetNRGBA(x, y, color.NRGBA{
				R: conv(p.Channel(x, y, 0)),
				G: conv(p.Channel(x, y, 1)),
				B: conv(p.Channel(x, y, 2)),
				A: unit8(p.Channel(x, y, 3)),
			})
		}
	}
	return img, nil
}

func clamp01(v float32) float64 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return math.Min(math.Max(float64(v), 0), 1)
}

func unit16(v float32) uint16 { return uint16(math.Round(clamp01(v) * 65535)) }

func unit8(v float32) uint8 { return uint8(math.Round(clamp01(v) * 255)) }

// srgb8 applies the sRGB transfer curve to a linear value.
func srgb8(v float32) uint8 {
	c := clamp01(v)
	if c <= 0.0031308 {
		c *= 12.92
	} else {
		c = 1.055*math.Pow(c, 1/2.4) - 0.055
	}
	return uint8(math.Round(c * 255))
}

// encodeFile writes img to path in the given format.
func encodeFile(path string, img image.Image, format settings.ImageFormat, jpegQuality int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	switch format {
	case settings.ImageJPG:
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case settings.ImageBMP:
		err = bmp.Encode(w, img)
	default:
		err = imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(pngCompression))
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.Flush()
}
