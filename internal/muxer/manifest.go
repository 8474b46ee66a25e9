package muxer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/settings"
)

// DefaultFrameRate is reported when the frame timecodes cannot produce a rate.
const DefaultFrameRate = 30.0

// GPano mirrors the Google panorama tags written to the manifest.
type GPano struct {
	ProjectionType               string  `json:"projectionType"`
	StereoMode                   string  `json:"stereoMode"`
	FullPanoWidthPixels          int     `json:"fullPanoWidthPixels"`
	FullPanoHeightPixels         int     `json:"fullPanoHeightPixels"`
	CroppedAreaImageWidthPixels  int     `json:"croppedAreaImageWidthPixels"`
	CroppedAreaImageHeightPixels int     `json:"croppedAreaImageHeightPixels"`
	CroppedAreaLeftPixels        int     `json:"croppedAreaLeftPixels"`
	CroppedAreaTopPixels         int     `json:"croppedAreaTopPixels"`
	InitialHorizontalFOVDegrees  float64 `json:"initialHorizontalFOVDegrees"`
	InitialVerticalFOVDegrees    float64 `json:"initialVerticalFOVDegrees"`
	InitialViewHeadingDegrees    float64 `json:"initialViewHeadingDegrees"`
	InitialViewPitchDegrees      float64 `json:"initialViewPitchDegrees"`
	InitialViewRollDegrees       float64 `json:"initialViewRollDegrees"`
}

// Manifest describes one finalized segment.
type Manifest struct {
	FileBase             string           `json:"fileBase"`
	Directory            string           `json:"directory"`
	OutputFormat         string           `json:"outputFormat"`
	Mode                 string           `json:"mode"`
	Coverage             string           `json:"coverage"`
	Gamma                string           `json:"gamma"`
	Resolution           int              `json:"resolution"`
	FrameCount           int              `json:"frameCount"`
	FrameRate            float64          `json:"frameRate"`
	DroppedFrames        int              `json:"droppedFrames"`
	StereoLayout         string           `json:"stereoLayout"`
	OutputWidth          int              `json:"outputWidth"`
	OutputHeight         int              `json:"outputHeight"`
	OutputLayout         string           `json:"outputLayout"`
	LongitudeSpanRadians float64          `json:"longitudeSpanRadians"`
	LatitudeSpanRadians  float64          `json:"latitudeSpanRadians"`
	IsStereo             bool             `json:"isStereo"`
	IsVR180              bool             `json:"isVR180"`
	HorizontalFOVDegrees float64          `json:"horizontalFOVDegrees"`
	VerticalFOVDegrees   float64          `json:"verticalFOVDegrees"`
	StereoMode           string           `json:"stereoMode"`
	EncoderAlignment     int              `json:"encoderAlignment"`
	PerEyeWidth          int              `json:"perEyeWidth"`
	PerEyeHeight         int              `json:"perEyeHeight"`
	AuxiliaryLayers      []string         `json:"auxiliaryLayers,omitempty"`
	GPano                GPano            `json:"gpano"`
	ColorSpace           string           `json:"colorSpace"`
	Audio                string           `json:"audio"`
	VideoFile            string           `json:"videoFile"`
	NVENCBitstream       string           `json:"nvencBitstream,omitempty"`
	ZeroCopy             bool             `json:"zeroCopy"`
	D3D12Interop         string           `json:"d3d12Interop"`
	Codec                string           `json:"codec"`
	NVENCColorFormat     string           `json:"nvencColorFormat"`
	Frames               []frame.Metadata `json:"frames"`
}

// FrameRate derives the capture rate from the first and last timecodes.
func FrameRate(frames []frame.Metadata) float64 {
	if len(frames) < 2 {
		return DefaultFrameRate
	}
	duration := frames[len(frames)-1].Timecode - frames[0].Timecode
	if duration <= 0 {
		return DefaultFrameRate
	}
	return float64(len(frames)-1) / duration
}

func coverageTag(s *settings.Settings) string {
	if s.IsVR180() {
		return "VR180"
	}
	return "VR360"
}

func outputLayout(s *settings.Settings) string {
	switch {
	case !s.IsStereo():
		return "Mono"
	case s.StereoLayout == settings.LayoutSideBySide:
		return "StereoSideBySide"
	default:
		return "StereoTopBottom"
	}
}

func colorSpaceTag(cs settings.ColorSpace) string {
	switch cs {
	case settings.ColorSpaceBT2020:
		return "BT.2020"
	case settings.ColorSpaceHDR10:
		return "HDR10"
	default:
		return "BT.709"
	}
}

func gpanoFor(s *settings.Settings) GPano {
	pano := s.PanoGeometry()
	return GPano{
		ProjectionType:               "equirectangular",
		StereoMode:                   s.StereoModeTag(),
		FullPanoWidthPixels:          pano.FullWidth,
		FullPanoHeightPixels:         pano.FullHeight,
		CroppedAreaImageWidthPixels:  pano.CroppedWidth,
		CroppedAreaImageHeightPixels: pano.CroppedHeight,
		CroppedAreaLeftPixels:        pano.CroppedLeft,
		CroppedAreaTopPixels:         pano.CroppedTop,
		InitialHorizontalFOVDegrees:  s.HorizontalFOVDegrees(),
		InitialVerticalFOVDegrees:    s.VerticalFOVDegrees(),
	}
}

// BuildManifest assembles the manifest of a segment written to dir/base.
func BuildManifest(s settings.Settings, dir, base string, in Input) Manifest {
	out := s.OutputResolution()
	eye := s.PerEyeResolution()

	outputFormat := "NVENC"
	if s.IsImageSequence() {
		outputFormat = "ImageSequence"
	}
	frames := in.Frames
	if frames == nil {
		frames = []frame.Metadata{}
	}

	m := Manifest{
		FileBase:             base,
		Directory:            dir,
		OutputFormat:         outputFormat,
		Mode:                 string(s.Mode),
		Coverage:             coverageTag(&s),
		Gamma:                string(s.Gamma),
		Resolution:           s.Resolution,
		FrameCount:           len(in.Frames),
		FrameRate:            FrameRate(in.Frames),
		DroppedFrames:        in.DroppedFrames,
		StereoLayout:         string(s.StereoLayout),
		OutputWidth:          out.Width,
		OutputHeight:         out.Height,
		OutputLayout:         outputLayout(&s),
		LongitudeSpanRadians: s.LongitudeSpanRadians(),
		LatitudeSpanRadians:  s.LatitudeSpanRadians(),
		IsStereo:             s.IsStereo(),
		IsVR180:              s.IsVR180(),
		HorizontalFOVDegrees: s.HorizontalFOVDegrees(),
		VerticalFOVDegrees:   s.VerticalFOVDegrees(),
		StereoMode:           s.StereoModeTag(),
		EncoderAlignment:     s.EncoderAlignment(),
		PerEyeWidth:          eye.Width,
		PerEyeHeight:         eye.Height,
		AuxiliaryLayers:      in.AuxiliaryLayers,
		GPano:                gpanoFor(&s),
		ColorSpace:           colorSpaceTag(s.ColorSpace),
		Audio:                in.AudioPath,
		VideoFile:            filepath.Join(dir, base+".mp4"),
		NVENCBitstream:       in.VideoPath,
		ZeroCopy:             s.ZeroCopy,
		D3D12Interop:         string(s.D3D12Interop),
		Codec:                string(s.Codec),
		NVENCColorFormat:     string(s.ColorFormat),
		Frames:               frames,
	}
	if len(m.AuxiliaryLayers) == 0 {
		m.AuxiliaryLayers = s.AuxiliaryPasses
	}
	return m
}

// Spatial is the VR sidecar consumed by players that ignore XMP.
type Spatial struct {
	Projection           string  `json:"projection"`
	StereoMode           string  `json:"stereoMode"`
	IsStereo             bool    `json:"isStereo"`
	FrameWidth           int     `json:"frameWidth"`
	FrameHeight          int     `json:"frameHeight"`
	PerEyeWidth          int     `json:"perEyeWidth"`
	PerEyeHeight         int     `json:"perEyeHeight"`
	FullPanoWidth        int     `json:"fullPanoWidth"`
	FullPanoHeight       int     `json:"fullPanoHeight"`
	CroppedLeft          int     `json:"croppedLeft"`
	CroppedTop           int     `json:"croppedTop"`
	HorizontalFOVDegrees float64 `json:"horizontalFOVDegrees"`
	VerticalFOVDegrees   float64 `json:"verticalFOVDegrees"`
}

// BuildSpatial returns the spatial sidecar for s.
func BuildSpatial(s settings.Settings) Spatial {
	out := s.OutputResolution()
	eye := s.PerEyeResolution()
	pano := s.PanoGeometry()
	return Spatial{
		Projection:           coverageTag(&s),
		StereoMode:           s.StereoModeTag(),
		IsStereo:             s.IsStereo(),
		FrameWidth:           out.Width,
		FrameHeight:          out.Height,
		PerEyeWidth:          eye.Width,
		PerEyeHeight:         eye.Height,
		FullPanoWidth:        pano.FullWidth,
		FullPanoHeight:       pano.FullHeight,
		CroppedLeft:          pano.CroppedLeft,
		CroppedTop:           pano.CroppedTop,
		HorizontalFOVDegrees: s.HorizontalFOVDegrees(),
		VerticalFOVDegrees:   s.VerticalFOVDegrees(),
	}
}

const xmpTemplate = `<?xml version="1.0" encoding="utf-8"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:GPano="http://ns.google.com/photos/1.0/panorama/"
    GPano:ProjectionType="equirectangular"
    GPano:StereoMode="%s"
    GPano:StitchingSoftware="OmniCapture"
    GPano:CroppedAreaImageWidthPixels="%d"
    GPano:CroppedAreaImageHeightPixels="%d"
    GPano:CroppedAreaLeftPixels="%d"
    GPano:CroppedAreaTopPixels="%d"
    GPano:FullPanoWidthPixels="%d"
    GPano:FullPanoHeightPixels="%d"
    GPano:InitialViewHeadingDegrees="0"
    GPano:InitialViewPitchDegrees="0"
    GPano:InitialViewRollDegrees="0"
    GPano:InitialHorizontalFOVDegrees="%.2f"
    GPano:InitialVerticalFOVDegrees="%.2f"/>
 </rdf:RDF>
</x:xmpmeta>
`

// BuildXMP renders the GPano XMP packet for s.
func BuildXMP(s settings.Settings) string {
	pano := s.PanoGeometry()
	return fmt.Sprintf(xmpTemplate,
		s.StereoModeTag(),
		pano.CroppedWidth, pano.CroppedHeight,
		pano.CroppedLeft, pano.CroppedTop,
		pano.FullWidth, pano.FullHeight,
		s.HorizontalFOVDegrees(), s.VerticalFOVDegrees())
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
