package settings

import "math"

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

const baseAlignment = 2

// AlignDimension rounds v up to a multiple of alignment. Non-positive values
// become one alignment unit.
func AlignDimension(v, alignment int) int {
	if v <= 0 {
		return max(alignment, 1)
	}
	if alignment <= 1 {
		return v
	}
	rounded := ((v + alignment - 1) / alignment) * alignment
	return max(alignment, rounded)
}

func alignSize(s Size, alignment int) Size {
	return Size{AlignDimension(s.Width, alignment), AlignDimension(s.Height, alignment)}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	return a / gcd(a, b) * b
}

// EncoderAlignment is the dimension multiple the active writer requires.
func (s *Settings) EncoderAlignment() int {
	alignment := baseAlignment
	if s.OutputFormat == OutputNVENC {
		alignment = lcm(alignment, 64)
		if s.ColorFormat == ColorP010 {
			alignment = lcm(alignment, 4)
		}
	}
	return max(1, alignment)
}

// EquirectResolution is the aligned full output size of an equirect frame.
func (s *Settings) EquirectResolution() Size {
	if s.IsPlanar() {
		return s.PlanarResolution()
	}

	alignment := s.EncoderAlignment()
	widthFactor := 2
	if s.IsVR180() {
		widthFactor = 1
	}
	eye := Size{
		Width:  AlignDimension(s.Resolution*widthFactor, alignment),
		Height: AlignDimension(s.Resolution, alignment),
	}

	out := eye
	if s.IsStereo() {
		if s.StereoLayout == LayoutSideBySide {
			out.Width = AlignDimension(AlignDimension(eye.Width*2, alignment), 2)
		} else {
			out.Height = AlignDimension(AlignDimension(eye.Height*2, alignment), 2)
		}
	}

	out.Width = max(2, out.Width)
	out.Height = max(2, out.Height)
	return out
}

// PlanarResolution is the scaled, aligned planar output size.
func (s *Settings) PlanarResolution() Size {
	scale := max(1, s.PlanarIntegerScale)
	base := Size{max(1, s.PlanarWidth) * scale, max(1, s.PlanarHeight) * scale}
	base = alignSize(base, s.EncoderAlignment())
	return Size{max(2, base.Width), max(2, base.Height)}
}

// FisheyeResolution is the aligned per-eye fisheye size.
func (s *Settings) FisheyeResolution() Size {
	base := Size{max(2, s.FisheyeWidth), max(2, s.FisheyeHeight)}
	base = alignSize(base, s.EncoderAlignment())
	return Size{max(2, base.Width), max(2, base.Height)}
}

// OutputResolution is the size of one encoded or written frame.
func (s *Settings) OutputResolution() Size {
	switch {
	case s.IsPlanar():
		return s.PlanarResolution()
	case s.IsFisheye() && !s.ShouldConvertFisheyeToEquirect():
		eye := s.FisheyeResolution()
		out := eye
		if s.IsStereo() {
			if s.StereoLayout == LayoutSideBySide {
				out.Width = AlignDimension(eye.Width*2, s.EncoderAlignment())
			} else {
				out.Height = AlignDimension(eye.Height*2, s.EncoderAlignment())
			}
		}
		return Size{max(2, out.Width), max(2, out.Height)}
	default:
		return s.EquirectResolution()
	}
}

// PerEyeResolution is the size of a single eye inside the output frame.
func (s *Settings) PerEyeResolution() Size {
	if s.IsPlanar() {
		return s.PlanarResolution()
	}
	if s.IsFisheye() && !s.ShouldConvertFisheyeToEquirect() {
		return s.FisheyeResolution()
	}

	out := s.EquirectResolution()
	if !s.IsStereo() {
		return out
	}
	if s.StereoLayout == LayoutSideBySide {
		return Size{max(1, out.Width/2), out.Height}
	}
	return Size{out.Width, max(1, out.Height/2)}
}

// HorizontalFOVDegrees is the horizontal field of view of the output.
func (s *Settings) HorizontalFOVDegrees() float64 {
	switch s.Projection {
	case ProjectionFisheye:
		return clamp(s.FisheyeFOV, 0, 360)
	case ProjectionPlanar:
		return 90
	case ProjectionFullDome:
		return 180
	case ProjectionSphericalMirror:
		if s.IsVR180() {
			return 200
		}
		return 220
	default:
		if s.IsVR180() {
			return 180
		}
		return 360
	}
}

// VerticalFOVDegrees is the vertical field of view of the output.
func (s *Settings) VerticalFOVDegrees() float64 {
	switch s.Projection {
	case ProjectionFisheye:
		return clamp(s.FisheyeFOV, 0, 360)
	case ProjectionPlanar:
		return 90
	default:
		return 180
	}
}

// LongitudeSpanRadians is half the horizontal FOV in radians.
func (s *Settings) LongitudeSpanRadians() float64 {
	return s.HorizontalFOVDegrees() * 0.5 * math.Pi / 180
}

// LatitudeSpanRadians is half the vertical FOV in radians.
func (s *Settings) LatitudeSpanRadians() float64 {
	return s.VerticalFOVDegrees() * 0.5 * math.Pi / 180
}

// Pano describes the GPano full and cropped panorama geometry.
type Pano struct {
	FullWidth     int
	FullHeight    int
	CroppedWidth  int
	CroppedHeight int
	CroppedLeft   int
	CroppedTop    int
}

// PanoGeometry returns the GPano geometry of the output frame. VR180 frames
// sit centered in a panorama twice their width.
func (s *Settings) PanoGeometry() Pano {
	out := s.OutputResolution()
	p := Pano{
		FullWidth:     out.Width,
		FullHeight:    out.Height,
		CroppedWidth:  out.Width,
		CroppedHeight: out.Height,
	}
	if s.IsVR180() {
		p.FullWidth = out.Width * 2
		p.CroppedLeft = (p.FullWidth - out.Width) / 2
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
