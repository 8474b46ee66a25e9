package ffmpeg

// ColorSpace names the output color tags.
type ColorSpace string

const (
	ColorBT709  ColorSpace = "BT709"
	ColorBT2020 ColorSpace = "BT2020"
	ColorHDR10  ColorSpace = "HDR10"
)

// ColorTags are the ffmpeg color arguments for a color space.
type ColorTags struct {
	Space       string
	Primaries   string
	Transfer    string
	PixelFormat string // used when re-encoding image sequences
}

// SphericalTags describe the equirectangular stream metadata.
type SphericalTags struct {
	StereoMode    string // mono, top-bottom, left-right
	HalfSphere    bool
	FullWidth     int
	FullHeight    int
	CroppedWidth  int
	CroppedHeight int
	CroppedLeft   int
	CroppedTop    int
	HorizontalFOV float64
	VerticalFOV   float64
}

// MuxParams describe one mux invocation.
type MuxParams struct {
	// Input is a printf image pattern (ImageSequence) or an Annex-B bitstream.
	Input         string
	ImageSequence bool
	FrameRate     float64
	HEVC          bool // selects libx265 when re-encoding image sequences

	// AudioPath is muxed as AAC when set; otherwise the output is silent.
	AudioPath string

	Color     ColorSpace
	Spherical *SphericalTags

	ForceConstantFrameRate bool
	FastStart              bool

	Output string
}

// EncodeParams describe a raw-video encoder process.
type EncodeParams struct {
	HEVC        bool
	PixelFormat string // nv12, p010le, bgra
	Width       int
	Height      int
	FrameRate   int

	RateControl string // cbr, vbr, constqp
	Bitrate     int    // bits per second
	MaxBitrate  int
	GOP         int
	BFrames     int
	QPMin       int
	QPMax       int

	Multipass  string // disabled, qres, fullres
	SpatialAQ  bool
	Lookahead  bool
	LowLatency bool
	Lossless   bool
	ForceIDRs  bool // forced key frames are coded as IDR
	GPU        int
}
