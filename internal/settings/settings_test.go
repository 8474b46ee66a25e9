package settings

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAlignDimension(t *testing.T) {
	tests := []struct {
		value, alignment, want int
	}{
		{0, 2, 2},
		{-5, 64, 64},
		{1, 2, 2},
		{3, 2, 4},
		{4096, 64, 4096},
		{4100, 64, 4160},
		{7, 1, 7},
	}

	for _, tt := range tests {
		if got := AlignDimension(tt.value, tt.alignment); got != tt.want {
			t.Errorf("AlignDimension(%d, %d) = %d, want %d", tt.value, tt.alignment, got, tt.want)
		}
	}
}

func TestEncoderAlignment(t *testing.T) {
	tests := []struct {
		name   string
		output OutputFormat
		color  ColorFormat
		want   int
	}{
		{"image sequence", OutputImageSequence, ColorNV12, 2},
		{"nvenc nv12", OutputNVENC, ColorNV12, 64},
		{"nvenc p010", OutputNVENC, ColorP010, 64},
		{"nvenc bgra", OutputNVENC, ColorBGRA, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			s.OutputFormat = tt.output
			s.ColorFormat = tt.color
			if got := s.EncoderAlignment(); got != tt.want {
				t.Errorf("EncoderAlignment() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOutputResolution(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		want   Size
		perEye Size
	}{
		{
			name:   "mono 360",
			modify: func(s *Settings) { s.Resolution = 1024 },
			want:   Size{2048, 1024},
			perEye: Size{2048, 1024},
		},
		{
			name: "stereo top bottom",
			modify: func(s *Settings) {
				s.Resolution = 1024
				s.Mode = ModeStereo
				s.StereoLayout = LayoutTopBottom
			},
			want:   Size{2048, 2048},
			perEye: Size{2048, 1024},
		},
		{
			name: "vr180 side by side",
			modify: func(s *Settings) {
				s.Resolution = 1024
				s.Coverage = CoverageHalf
				s.Mode = ModeStereo
				s.StereoLayout = LayoutSideBySide
			},
			want:   Size{2048, 1024},
			perEye: Size{1024, 1024},
		},
		{
			name: "planar scaled",
			modify: func(s *Settings) {
				s.Projection = ProjectionPlanar
				s.PlanarWidth = 1000
				s.PlanarHeight = 500
				s.PlanarIntegerScale = 2
				s.OutputFormat = OutputNVENC
			},
			want:   Size{2048, 1024},
			perEye: Size{2048, 1024},
		},
		{
			name: "odd resolution aligned for nvenc",
			modify: func(s *Settings) {
				s.Resolution = 1001
				s.OutputFormat = OutputNVENC
			},
			want:   Size{2048, 1024},
			perEye: Size{2048, 1024},
		},
		{
			name: "fisheye stereo side by side",
			modify: func(s *Settings) {
				s.Projection = ProjectionFisheye
				s.FisheyeWidth = 1024
				s.FisheyeHeight = 1024
				s.Mode = ModeStereo
				s.StereoLayout = LayoutSideBySide
			},
			want:   Size{2048, 1024},
			perEye: Size{1024, 1024},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.modify(&s)
			if got := s.OutputResolution(); got != tt.want {
				t.Errorf("OutputResolution() = %+v, want %+v", got, tt.want)
			}
			if got := s.PerEyeResolution(); got != tt.perEye {
				t.Errorf("PerEyeResolution() = %+v, want %+v", got, tt.perEye)
			}
		})
	}
}

func TestFieldOfView(t *testing.T) {
	tests := []struct {
		name       string
		projection Projection
		coverage   Coverage
		fisheyeFOV float64
		wantH      float64
		wantV      float64
	}{
		{"equirect 360", ProjectionEquirectangular, CoverageFull, 0, 360, 180},
		{"equirect 180", ProjectionEquirectangular, CoverageHalf, 0, 180, 180},
		{"planar", ProjectionPlanar, CoverageFull, 0, 90, 90},
		{"fisheye", ProjectionFisheye, CoverageFull, 200, 200, 200},
		{"mirror", ProjectionSphericalMirror, CoverageFull, 0, 220, 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			s.Projection = tt.projection
			s.Coverage = tt.coverage
			s.FisheyeFOV = tt.fisheyeFOV
			if got := s.HorizontalFOVDegrees(); got != tt.wantH {
				t.Errorf("HorizontalFOVDegrees() = %v, want %v", got, tt.wantH)
			}
			if got := s.VerticalFOVDegrees(); got != tt.wantV {
				t.Errorf("VerticalFOVDegrees() = %v, want %v", got, tt.wantV)
			}
		})
	}

	s := Default()
	if got := s.LongitudeSpanRadians(); math.Abs(got-math.Pi) > 1e-9 {
		t.Errorf("LongitudeSpanRadians() = %v, want pi", got)
	}
}

func TestStereoModeTag(t *testing.T) {
	s := Default()
	if got := s.StereoModeTag(); got != "mono" {
		t.Errorf("mono tag = %q", got)
	}
	s.Mode = ModeStereo
	if got := s.StereoModeTag(); got != "top-bottom" {
		t.Errorf("top-bottom tag = %q", got)
	}
	s.StereoLayout = LayoutSideBySide
	if got := s.StereoModeTag(); got != "left-right" {
		t.Errorf("side-by-side tag = %q", got)
	}
}

func TestPanoGeometryVR180(t *testing.T) {
	s := Default()
	s.Resolution = 1024
	s.Coverage = CoverageHalf

	p := s.PanoGeometry()
	if p.FullWidth != 2048 || p.CroppedWidth != 1024 || p.CroppedLeft != 512 {
		t.Errorf("unexpected geometry %+v", p)
	}
}

func TestApplyCompatibilityFixups(t *testing.T) {
	tests := []struct {
		name         string
		modify       func(*Settings)
		wantWarnings int
		check        func(*testing.T, Settings)
	}{
		{
			name:         "equirect stereo is untouched",
			modify:       func(s *Settings) { s.Mode = ModeStereo },
			wantWarnings: 0,
		},
		{
			name: "planar stereo becomes mono",
			modify: func(s *Settings) {
				s.Projection = ProjectionPlanar
				s.Mode = ModeStereo
			},
			wantWarnings: 1,
			check: func(t *testing.T, s Settings) {
				if s.Mode != ModeMono {
					t.Errorf("mode = %s, want Mono", s.Mode)
				}
			},
		},
		{
			name: "full dome forces half coverage",
			modify: func(s *Settings) {
				s.Projection = ProjectionFullDome
				s.Coverage = CoverageFull
			},
			wantWarnings: 1,
			check: func(t *testing.T, s Settings) {
				if s.Coverage != CoverageHalf {
					t.Errorf("coverage = %s, want HalfSphere", s.Coverage)
				}
			},
		},
		{
			name: "half sphere fisheye forces hemispherical",
			modify: func(s *Settings) {
				s.Projection = ProjectionFisheye
				s.Coverage = CoverageHalf
				s.FisheyeType = FisheyeOmniDirectional
			},
			wantWarnings: 1,
			check: func(t *testing.T, s Settings) {
				if s.FisheyeType != FisheyeHemispherical {
					t.Errorf("fisheye type = %s", s.FisheyeType)
				}
			},
		},
		{
			name:         "unknown projection",
			modify:       func(s *Settings) { s.Projection = "Cubemap" },
			wantWarnings: 1,
			check: func(t *testing.T, s Settings) {
				if s.Projection != ProjectionEquirectangular {
					t.Errorf("projection = %s", s.Projection)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.modify(&s)
			warnings := ApplyCompatibilityFixups(&s)
			if len(warnings) != tt.wantWarnings {
				t.Fatalf("got %d warnings (%v), want %d", len(warnings), warnings, tt.wantWarnings)
			}
			if tt.check != nil {
				tt.check(t, s)
			}
		})
	}
}

func TestValidateResolution(t *testing.T) {
	s := Default()
	s.Resolution = 0
	err := ValidateResolution(&s)
	if !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
	if !strings.Contains(err.Error(), "(0)") {
		t.Errorf("error should include the resolution: %v", err)
	}
}

func TestResolveOutput(t *testing.T) {
	s := Default()
	s.OutputDirectory = ""
	s.OutputFileName = " "
	ResolveOutput(&s, "/data")

	if s.OutputDirectory != filepath.Join("/data", DefaultOutputDirectory) {
		t.Errorf("OutputDirectory = %q", s.OutputDirectory)
	}
	if s.OutputFileName != DefaultBaseName {
		t.Errorf("OutputFileName = %q", s.OutputFileName)
	}
}

func TestInterPupillaryDistanceCurve(t *testing.T) {
	s := Default()
	if got := s.InterPupillaryDistanceAt(3); got != 6.4 {
		t.Errorf("fixed IPD = %v", got)
	}

	s.InterPupillaryDistanceCurve = []CurveKey{{Time: 0, Value: 6}, {Time: 2, Value: 8}}
	tests := []struct {
		t, want float64
	}{
		{-1, 6}, {0, 6}, {1, 7}, {2, 8}, {5, 8},
	}
	for _, tt := range tests {
		if got := s.InterPupillaryDistanceAt(tt.t); got != tt.want {
			t.Errorf("InterPupillaryDistanceAt(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.toml")

	s := Default()
	s.Codec = CodecH264
	s.SegmentFrameCount = 300
	if err := Save(path, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Codec != CodecH264 || loaded.SegmentFrameCount != 300 {
		t.Errorf("loaded settings lost values: codec=%s frames=%d", loaded.Codec, loaded.SegmentFrameCount)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.toml")
	content := "[capture]\nresolution = 2048\nring_buffer_policy = \"BlockProducer\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Resolution != 2048 || s.RingBufferPolicy != PolicyBlockProducer {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.Quality.GOPLength != 60 || s.TargetFrameRate != 60 {
		t.Errorf("defaults lost: gop=%d fps=%v", s.Quality.GOPLength, s.TargetFrameRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Resolution != Default().Resolution {
		t.Errorf("expected defaults, got resolution %d", s.Resolution)
	}
}
