// Package settings holds the capture configuration, its defaults, derived
// geometry helpers and the validation rules applied before a capture starts.
package settings

// Mode selects mono or stereo capture.
type Mode string

const (
	ModeMono   Mode = "Mono"
	ModeStereo Mode = "Stereo"
)

// Projection is the output projection produced by the frame converter.
type Projection string

const (
	ProjectionEquirectangular Projection = "Equirectangular"
	ProjectionFisheye         Projection = "Fisheye"
	ProjectionPlanar          Projection = "Planar"
	ProjectionCylindrical     Projection = "Cylindrical"
	ProjectionFullDome        Projection = "FullDome"
	ProjectionSphericalMirror Projection = "SphericalMirror"
)

// Coverage is the portion of the sphere captured.
type Coverage string

const (
	CoverageFull Coverage = "FullSphere"
	CoverageHalf Coverage = "HalfSphere"
)

// StereoLayout arranges the two eyes in one output frame.
type StereoLayout string

const (
	LayoutTopBottom  StereoLayout = "TopBottom"
	LayoutSideBySide StereoLayout = "SideBySide"
)

// FisheyeType selects the fisheye lens model.
type FisheyeType string

const (
	FisheyeHemispherical   FisheyeType = "Hemispherical"
	FisheyeOmniDirectional FisheyeType = "OmniDirectional"
)

// Gamma is the transfer function of captured pixels.
type Gamma string

const (
	GammaSRGB   Gamma = "sRGB"
	GammaLinear Gamma = "Linear"
)

// ColorSpace is the output color space tag.
type ColorSpace string

const (
	ColorSpaceBT709  ColorSpace = "BT709"
	ColorSpaceBT2020 ColorSpace = "BT2020"
	ColorSpaceHDR10  ColorSpace = "HDR10"
)

// OutputFormat selects the primary writer.
type OutputFormat string

const (
	OutputImageSequence OutputFormat = "ImageSequence"
	OutputNVENC         OutputFormat = "NVENCHardware"
)

// ImageFormat is the file format of image sequence frames.
type ImageFormat string

const (
	ImagePNG ImageFormat = "PNG"
	ImageJPG ImageFormat = "JPG"
	ImageEXR ImageFormat = "EXR"
	ImageBMP ImageFormat = "BMP"
)

// HDRPrecision is the pixel precision requested from the converter.
type HDRPrecision string

const (
	PrecisionLDR       HDRPrecision = "LDR"
	PrecisionHalfFloat HDRPrecision = "HalfFloat"
	PrecisionFullFloat HDRPrecision = "FullFloat"
)

// Codec is the hardware encoder codec.
type Codec string

const (
	CodecH264 Codec = "H264"
	CodecHEVC Codec = "HEVC"
)

// ColorFormat is the encoder input pixel format.
type ColorFormat string

const (
	ColorNV12 ColorFormat = "NV12"
	ColorP010 ColorFormat = "P010"
	ColorBGRA ColorFormat = "BGRA"
)

// RateControl is the encoder rate control mode.
type RateControl string

const (
	RateControlCBR      RateControl = "CBR"
	RateControlVBR      RateControl = "VBR"
	RateControlConstQP  RateControl = "ConstQP"
	RateControlLossless RateControl = "Lossless"
)

// RingBufferPolicy is the backpressure policy of the frame queue.
type RingBufferPolicy string

const (
	PolicyDropOldest    RingBufferPolicy = "DropOldest"
	PolicyBlockProducer RingBufferPolicy = "BlockProducer"
)

// D3D12Interop selects the preferred D3D12 encoder bridge.
type D3D12Interop string

const (
	InteropNative D3D12Interop = "Native"
	InteropBridge D3D12Interop = "Bridge"
)

// Quality groups the encoder rate settings.
type Quality struct {
	TargetBitrateKbps int         `toml:"target_bitrate_kbps" json:"targetBitrateKbps"`
	MaxBitrateKbps    int         `toml:"max_bitrate_kbps" json:"maxBitrateKbps"`
	GOPLength         int         `toml:"gop_length" json:"gopLength"`
	BFrames           int         `toml:"b_frames" json:"bFrames"`
	LowLatency        bool        `toml:"low_latency" json:"lowLatency"`
	RateControl       RateControl `toml:"rate_control" json:"rateControl"`
}

// CurveKey is one keyframe of a piecewise linear curve.
type CurveKey struct {
	Time  float64 `toml:"time" json:"time"`
	Value float64 `toml:"value" json:"value"`
}

// Settings is the full capture configuration.
type Settings struct {
	Mode               Mode         `toml:"mode" json:"mode"`
	Projection         Projection   `toml:"projection" json:"projection"`
	Coverage           Coverage     `toml:"coverage" json:"coverage"`
	StereoLayout       StereoLayout `toml:"stereo_layout" json:"stereoLayout"`
	Resolution         int          `toml:"resolution" json:"resolution"`
	PlanarWidth        int          `toml:"planar_width" json:"planarWidth"`
	PlanarHeight       int          `toml:"planar_height" json:"planarHeight"`
	PlanarIntegerScale int          `toml:"planar_integer_scale" json:"planarIntegerScale"`

	FisheyeType              FisheyeType `toml:"fisheye_type" json:"fisheyeType"`
	FisheyeFOV               float64     `toml:"fisheye_fov" json:"fisheyeFov"`
	FisheyeWidth             int         `toml:"fisheye_width" json:"fisheyeWidth"`
	FisheyeHeight            int         `toml:"fisheye_height" json:"fisheyeHeight"`
	FisheyeConvertToEquirect bool        `toml:"fisheye_convert_to_equirect" json:"fisheyeConvertToEquirect"`

	TargetFrameRate  float64 `toml:"target_frame_rate" json:"targetFrameRate"`
	Gamma            Gamma   `toml:"gamma" json:"gamma"`
	PreviewFrameRate float64 `toml:"preview_frame_rate" json:"previewFrameRate"`

	RecordAudio bool    `toml:"record_audio" json:"recordAudio"`
	AudioGain   float64 `toml:"audio_gain" json:"audioGain"`

	InterPupillaryDistanceCm    float64    `toml:"interpupillary_distance_cm" json:"interPupillaryDistanceCm"`
	EyeConvergenceDistanceCm    float64    `toml:"eye_convergence_distance_cm" json:"eyeConvergenceDistanceCm"`
	InterPupillaryDistanceCurve []CurveKey `toml:"interpupillary_distance_curve" json:"interPupillaryDistanceCurve,omitempty"`

	SegmentDurationSeconds  float64 `toml:"segment_duration_seconds" json:"segmentDurationSeconds"`
	SegmentSizeLimitMB      int     `toml:"segment_size_limit_mb" json:"segmentSizeLimitMb"`
	SegmentFrameCount       int     `toml:"segment_frame_count" json:"segmentFrameCount"`
	CreateSegmentSubfolders bool    `toml:"create_segment_subfolders" json:"createSegmentSubfolders"`

	OutputFormat           OutputFormat `toml:"output_format" json:"outputFormat"`
	ImageFormat            ImageFormat  `toml:"image_format" json:"imageFormat"`
	HDRPrecision           HDRPrecision `toml:"hdr_precision" json:"hdrPrecision"`
	PNGBitDepth            int          `toml:"png_bit_depth" json:"pngBitDepth"`
	JPEGQuality            int          `toml:"jpeg_quality" json:"jpegQuality"`
	OutputDirectory        string       `toml:"output_directory" json:"outputDirectory"`
	OutputFileName         string       `toml:"output_file_name" json:"outputFileName"`
	ColorSpace             ColorSpace   `toml:"color_space" json:"colorSpace"`
	EnableFastStart        bool         `toml:"enable_fast_start" json:"enableFastStart"`
	ForceConstantFrameRate bool         `toml:"force_constant_frame_rate" json:"forceConstantFrameRate"`
	AllowNVENCFallback     bool         `toml:"allow_nvenc_fallback" json:"allowNvencFallback"`
	MaxPendingImageTasks   int          `toml:"max_pending_image_tasks" json:"maxPendingImageTasks"`
	PreferredFFmpegPath    string       `toml:"preferred_ffmpeg_path" json:"preferredFfmpegPath"`

	MinimumFreeDiskSpaceGB   int     `toml:"minimum_free_disk_space_gb" json:"minimumFreeDiskSpaceGb"`
	LowFrameRateWarningRatio float64 `toml:"low_frame_rate_warning_ratio" json:"lowFrameRateWarningRatio"`

	Quality Quality `toml:"quality" json:"quality"`

	Codec              Codec            `toml:"codec" json:"codec"`
	ColorFormat        ColorFormat      `toml:"color_format" json:"colorFormat"`
	ZeroCopy           bool             `toml:"zero_copy" json:"zeroCopy"`
	D3D12Interop       D3D12Interop     `toml:"d3d12_interop" json:"d3d12Interop"`
	RingBufferCapacity int              `toml:"ring_buffer_capacity" json:"ringBufferCapacity"`
	RingBufferPolicy   RingBufferPolicy `toml:"ring_buffer_policy" json:"ringBufferPolicy"`
	RuntimeDirectory   string           `toml:"runtime_directory" json:"runtimeDirectory"`
	RuntimeLibraryPath string           `toml:"runtime_library_path" json:"runtimeLibraryPath"`

	GenerateManifest     bool `toml:"generate_manifest" json:"generateManifest"`
	WriteSpatialMetadata bool `toml:"write_spatial_metadata" json:"writeSpatialMetadata"`
	WriteXMPMetadata     bool `toml:"write_xmp_metadata" json:"writeXmpMetadata"`
	InjectFFmpegMetadata bool `toml:"inject_ffmpeg_metadata" json:"injectFfmpegMetadata"`

	AuxiliaryPasses []string `toml:"auxiliary_passes" json:"auxiliaryPasses,omitempty"`
}

// Default returns the settings used when no file overrides a field.
func Default() Settings {
	return Settings{
		Mode:               ModeMono,
		Projection:         ProjectionEquirectangular,
		Coverage:           CoverageFull,
		StereoLayout:       LayoutTopBottom,
		Resolution:         4096,
		PlanarWidth:        3840,
		PlanarHeight:       2160,
		PlanarIntegerScale: 1,

		FisheyeType:   FisheyeHemispherical,
		FisheyeFOV:    180,
		FisheyeWidth:  4096,
		FisheyeHeight: 4096,

		TargetFrameRate:  60,
		Gamma:            GammaSRGB,
		PreviewFrameRate: 30,

		RecordAudio: true,
		AudioGain:   1,

		InterPupillaryDistanceCm: 6.4,

		CreateSegmentSubfolders: true,

		OutputFormat:           OutputImageSequence,
		ImageFormat:            ImagePNG,
		HDRPrecision:           PrecisionHalfFloat,
		PNGBitDepth:            8,
		JPEGQuality:            95,
		OutputFileName:         "OmniCapture",
		ColorSpace:             ColorSpaceBT709,
		EnableFastStart:        true,
		ForceConstantFrameRate: true,
		AllowNVENCFallback:     true,
		MaxPendingImageTasks:   8,

		MinimumFreeDiskSpaceGB:   2,
		LowFrameRateWarningRatio: 0.85,

		Quality: Quality{
			TargetBitrateKbps: 60000,
			MaxBitrateKbps:    80000,
			GOPLength:         60,
			BFrames:           2,
			RateControl:       RateControlCBR,
		},

		Codec:              CodecHEVC,
		ColorFormat:        ColorNV12,
		ZeroCopy:           true,
		D3D12Interop:       InteropBridge,
		RingBufferCapacity: 6,
		RingBufferPolicy:   PolicyDropOldest,

		GenerateManifest:     true,
		WriteSpatialMetadata: true,
		WriteXMPMetadata:     true,
		InjectFFmpegMetadata: true,
	}
}

// IsStereo reports whether both eyes are captured.
func (s *Settings) IsStereo() bool { return s.Mode == ModeStereo }

// IsVR180 reports half-sphere coverage.
func (s *Settings) IsVR180() bool { return s.Coverage == CoverageHalf }

// IsFisheye reports the fisheye projection.
func (s *Settings) IsFisheye() bool { return s.Projection == ProjectionFisheye }

// IsPlanar reports the flat planar projection.
func (s *Settings) IsPlanar() bool { return s.Projection == ProjectionPlanar }

// IsImageSequence reports whether frames are written as individual images.
func (s *Settings) IsImageSequence() bool { return s.OutputFormat == OutputImageSequence }

// ShouldConvertFisheyeToEquirect reports whether fisheye output is remapped.
func (s *Settings) ShouldConvertFisheyeToEquirect() bool {
	return s.FisheyeConvertToEquirect && s.IsFisheye()
}

// SupportsSphericalMetadata reports whether spherical video tags apply.
func (s *Settings) SupportsSphericalMetadata() bool {
	switch s.Projection {
	case ProjectionPlanar, ProjectionCylindrical, ProjectionFullDome, ProjectionSphericalMirror:
		return false
	}
	return true
}

// StereoModeTag is the stereo mode used in spherical metadata.
func (s *Settings) StereoModeTag() string {
	if !s.IsStereo() {
		return "mono"
	}
	if s.StereoLayout == LayoutTopBottom {
		return "top-bottom"
	}
	return "left-right"
}

// ImageFileExtension returns the extension, with dot, of sequence frames.
func (s *Settings) ImageFileExtension() string {
	switch s.ImageFormat {
	case ImageJPG:
		return ".jpg"
	case ImageEXR:
		return ".exr"
	case ImageBMP:
		return ".bmp"
	default:
		return ".png"
	}
}

// InterPupillaryDistanceAt evaluates the IPD curve at t seconds, falling back
// to the fixed distance when no curve is set.
func (s *Settings) InterPupillaryDistanceAt(t float64) float64 {
	keys := s.InterPupillaryDistanceCurve
	if len(keys) == 0 {
		return s.InterPupillaryDistanceCm
	}
	if t <= keys[0].Time {
		return keys[0].Value
	}
	for i := 1; i < len(keys); i++ {
		if t <= keys[i].Time {
			prev, next := keys[i-1], keys[i]
			span := next.Time - prev.Time
			if span <= 0 {
				return next.Value
			}
			alpha := (t - prev.Time) / span
			return prev.Value + (next.Value-prev.Value)*alpha
		}
	}
	return keys[len(keys)-1].Value
}
