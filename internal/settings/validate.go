package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// DefaultOutputDirectory is used when no output directory is configured.
	DefaultOutputDirectory = "OmniCaptures"
	// DefaultBaseName is used when no output file name is configured.
	DefaultBaseName = "OmniCapture"
)

// ErrInvalidResolution is returned for non-positive capture resolutions.
var ErrInvalidResolution = errors.New("invalid capture resolution")

type projectionCompatibility struct {
	coverage []Coverage
	stereo   bool
}

var compatibility = map[Projection]projectionCompatibility{
	ProjectionEquirectangular: {coverage: []Coverage{CoverageFull, CoverageHalf}, stereo: true},
	ProjectionFisheye:         {coverage: []Coverage{CoverageFull, CoverageHalf}, stereo: true},
	ProjectionPlanar:          {coverage: []Coverage{CoverageFull}},
	ProjectionCylindrical:     {coverage: []Coverage{CoverageFull}, stereo: true},
	ProjectionFullDome:        {coverage: []Coverage{CoverageHalf}},
	ProjectionSphericalMirror: {coverage: []Coverage{CoverageFull}},
}

// ApplyCompatibilityFixups rewrites combinations the selected projection
// cannot produce and returns one warning per change.
func ApplyCompatibilityFixups(s *Settings) []string {
	var warnings []string

	info, known := compatibility[s.Projection]
	if !known {
		warnings = append(warnings, fmt.Sprintf("Projection %s is unsupported at runtime - switching to Equirectangular.", s.Projection))
		s.Projection = ProjectionEquirectangular
		s.Coverage = CoverageFull
		info = compatibility[s.Projection]
	}

	if !slices.Contains(info.coverage, s.Coverage) {
		fallback := info.coverage[0]
		warnings = append(warnings, fmt.Sprintf("%s projection does not support %s coverage - switching to %s.", s.Projection, s.Coverage, fallback))
		s.Coverage = fallback
	}

	if !info.stereo && s.IsStereo() {
		warnings = append(warnings, fmt.Sprintf("%s projection does not support stereo output - switching to mono.", s.Projection))
		s.Mode = ModeMono
	}

	if s.IsFisheye() && s.IsVR180() && s.FisheyeType != FisheyeHemispherical {
		warnings = append(warnings, "Half-sphere fisheye capture requires hemispherical projection - forcing Hemispherical fisheye type.")
		s.FisheyeType = FisheyeHemispherical
	}

	return warnings
}

// Normalize clamps numeric fields into their legal ranges and fills empty
// enum fields with defaults.
func Normalize(s *Settings) {
	def := Default()

	s.PlanarWidth = max(16, s.PlanarWidth)
	s.PlanarHeight = max(16, s.PlanarHeight)
	s.PlanarIntegerScale = max(1, s.PlanarIntegerScale)
	s.FisheyeFOV = clamp(s.FisheyeFOV, 90, 360)
	s.FisheyeWidth = max(256, s.FisheyeWidth)
	s.FisheyeHeight = max(256, s.FisheyeHeight)
	s.TargetFrameRate = max(0, s.TargetFrameRate)
	s.PreviewFrameRate = clamp(s.PreviewFrameRate, 1, 240)
	s.EyeConvergenceDistanceCm = max(0, s.EyeConvergenceDistanceCm)
	s.SegmentDurationSeconds = max(0, s.SegmentDurationSeconds)
	s.SegmentSizeLimitMB = max(0, s.SegmentSizeLimitMB)
	s.SegmentFrameCount = max(0, s.SegmentFrameCount)
	s.MaxPendingImageTasks = max(1, s.MaxPendingImageTasks)
	s.MinimumFreeDiskSpaceGB = max(0, s.MinimumFreeDiskSpaceGB)
	s.LowFrameRateWarningRatio = clamp(s.LowFrameRateWarningRatio, 0.1, 1)
	s.RingBufferCapacity = max(0, s.RingBufferCapacity)
	s.JPEGQuality = int(clamp(float64(s.JPEGQuality), 1, 100))
	if s.PNGBitDepth != 16 {
		s.PNGBitDepth = 8
	}
	s.Quality.GOPLength = max(1, s.Quality.GOPLength)
	s.Quality.BFrames = max(0, s.Quality.BFrames)

	fill(&s.Mode, def.Mode)
	fill(&s.Projection, def.Projection)
	fill(&s.Coverage, def.Coverage)
	fill(&s.StereoLayout, def.StereoLayout)
	fill(&s.FisheyeType, def.FisheyeType)
	fill(&s.Gamma, def.Gamma)
	fill(&s.OutputFormat, def.OutputFormat)
	fill(&s.ImageFormat, def.ImageFormat)
	fill(&s.HDRPrecision, def.HDRPrecision)
	fill(&s.ColorSpace, def.ColorSpace)
	fill(&s.Codec, def.Codec)
	fill(&s.ColorFormat, def.ColorFormat)
	fill(&s.D3D12Interop, def.D3D12Interop)
	fill(&s.RingBufferPolicy, def.RingBufferPolicy)
	fill(&s.Quality.RateControl, def.Quality.RateControl)
}

func fill[T ~string](field *T, fallback T) {
	if *field == "" {
		*field = fallback
	}
}

// ValidateResolution rejects non-positive capture resolutions.
func ValidateResolution(s *Settings) error {
	if s.Resolution <= 0 {
		return fmt.Errorf("%w (%d)", ErrInvalidResolution, s.Resolution)
	}
	return nil
}

// ResolveOutput fills the output directory and base name. Relative
// directories are resolved against root.
func ResolveOutput(s *Settings, root string) {
	dir := strings.TrimSpace(s.OutputDirectory)
	if dir == "" {
		dir = DefaultOutputDirectory
	}
	if root != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	s.OutputDirectory = dir

	if strings.TrimSpace(s.OutputFileName) == "" {
		s.OutputFileName = DefaultBaseName
	}
}
