package ffmpeg

import (
	"fmt"
	"strconv"
)

// Base returns the flags every invocation starts with.
func Base() []string {
	return []string{"-hide_banner", "-nostdin", "-loglevel", "level+info"}
}

// Tags returns the color arguments for cs. Unknown values use BT.709.
func Tags(cs ColorSpace) ColorTags {
	switch cs {
	case ColorBT2020:
		return ColorTags{Space: "bt2020nc", Primaries: "bt2020", Transfer: "bt2020-10", PixelFormat: "yuv420p10le"}
	case ColorHDR10:
		return ColorTags{Space: "bt2020nc", Primaries: "bt2020", Transfer: "smpte2084", PixelFormat: "yuv420p10le"}
	default:
		return ColorTags{Space: "bt709", Primaries: "bt709", Transfer: "bt709", PixelFormat: "yuv420p"}
	}
}

// MuxArgs builds the argument list that turns a bitstream or image sequence
// (plus optional audio) into an MP4.
func MuxArgs(p MuxParams) []string {
	args := Base()
	args = append(args, "-y", "-framerate", fmt.Sprintf("%.3f", p.FrameRate), "-i", p.Input)

	if p.AudioPath != "" {
		args = append(args, "-i", p.AudioPath, "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-an")
	}

	tags := Tags(p.Color)
	if p.ImageSequence {
		codec := "libx264"
		if p.HEVC {
			codec = "libx265"
		}
		args = append(args, "-c:v", codec, "-pix_fmt", tags.PixelFormat)
	} else {
		args = append(args, "-c:v", "copy")
	}

	if p.Spherical != nil {
		args = append(args, SphericalArgs(*p.Spherical)...)
	}
	args = append(args, "-colorspace", tags.Space, "-color_primaries", tags.Primaries, "-color_trc", tags.Transfer)

	if p.ForceConstantFrameRate {
		args = append(args, "-vsync", "cfr")
	}
	if p.FastStart {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, "-shortest", p.Output)
}

// SphericalArgs returns the per-stream spherical video and GPano metadata.
func SphericalArgs(s SphericalTags) []string {
	view := "VR360"
	bounds := [4]int{-180, 180, 90, -90}
	if s.HalfSphere {
		view = "VR180"
		bounds = [4]int{-90, 90, 90, -90}
	}

	kv := []string{
		"spherical_video=1",
		"projection=equirectangular",
		"stereo_mode=" + s.StereoMode,
		"spatial_audio=0",
		"stitching_software=OmniCapture",
		"projection_pose_yaw_degrees=0",
		"projection_pose_pitch_degrees=0",
		"projection_pose_roll_degrees=0",
		fmt.Sprintf("bound_left=%d", bounds[0]),
		fmt.Sprintf("bound_right=%d", bounds[1]),
		fmt.Sprintf("bound_top=%d", bounds[2]),
		fmt.Sprintf("bound_bottom=%d", bounds[3]),
		"view=" + view,
		"spherical=1",
		"gpano:ProjectionType=equirectangular",
		"gpano:StereoMode=" + s.StereoMode,
		fmt.Sprintf("gpano:FullPanoWidthPixels=%d", s.FullWidth),
		fmt.Sprintf("gpano:FullPanoHeightPixels=%d", s.FullHeight),
		fmt.Sprintf("gpano:CroppedAreaImageWidthPixels=%d", s.CroppedWidth),
		fmt.Sprintf("gpano:CroppedAreaImageHeightPixels=%d", s.CroppedHeight),
		fmt.Sprintf("gpano:CroppedAreaLeftPixels=%d", s.CroppedLeft),
		fmt.Sprintf("gpano:CroppedAreaTopPixels=%d", s.CroppedTop),
		fmt.Sprintf("gpano:InitialHorizontalFOVDegrees=%.2f", s.HorizontalFOV),
		fmt.Sprintf("gpano:InitialVerticalFOVDegrees=%.2f", s.VerticalFOV),
	}

	args := make([]string, 0, len(kv)*2)
	for _, v := range kv {
		args = append(args, "-metadata:s:v:0", v)
	}
	return args
}

// EncoderName returns the NVENC encoder for the codec.
func EncoderName(hevc bool) string {
	if hevc {
		return "hevc_nvenc"
	}
	return "h264_nvenc"
}

// EncodeArgs builds a process that reads raw frames on stdin and writes an
// Annex-B stream with access unit delimiters on stdout.
func EncodeArgs(p EncodeParams) []string {
	args := Base()
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", p.PixelFormat,
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-r", strconv.Itoa(max(1, p.FrameRate)),
		"-i", "pipe:0",
		"-c:v", EncoderName(p.HEVC),
		"-gpu", strconv.Itoa(p.GPU),
		"-aud", "1",
		"-bf", strconv.Itoa(max(0, p.BFrames)),
		"-g", strconv.Itoa(max(1, p.GOP)),
	)

	switch {
	case p.Lossless:
		args = append(args, "-tune", "lossless")
	case p.LowLatency:
		args = append(args, "-tune", "ull", "-zerolatency", "1")
	default:
		args = append(args, "-tune", "hq")
	}

	rc := p.RateControl
	if rc == "" {
		rc = "cbr"
	}
	args = append(args, "-rc", rc)
	if rc == "constqp" {
		args = append(args, "-qp", strconv.Itoa(p.QPMax))
	} else {
		args = append(args,
			"-b:v", strconv.Itoa(p.Bitrate),
			"-maxrate", strconv.Itoa(max(p.MaxBitrate, p.Bitrate)),
			"-qmin", strconv.Itoa(p.QPMin),
			"-qmax", strconv.Itoa(p.QPMax),
		)
	}

	if p.Multipass != "" {
		args = append(args, "-multipass", p.Multipass)
	}
	if p.SpatialAQ {
		args = append(args, "-spatial-aq", "1")
	}
	if p.Lookahead {
		args = append(args, "-rc-lookahead", "16")
	}
	if p.ForceIDRs {
		args = append(args, "-forced-idr", "1")
	}

	format := "h264"
	if p.HEVC {
		format = "hevc"
	}
	return append(args, "-flush_packets", "1", "-f", format, "pipe:1")
}

// ValidateArgs encodes one generated frame with the given settings and
// discards it. A zero exit means the combination is usable.
func ValidateArgs(p EncodeParams) []string {
	args := Base()
	args = append(args,
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=1", p.Width, p.Height, max(1, p.FrameRate)),
		"-frames:v", "1",
		"-vf", "format="+p.PixelFormat,
		"-c:v", EncoderName(p.HEVC),
		"-gpu", strconv.Itoa(p.GPU),
	)
	if p.HEVC && p.PixelFormat == "p010le" {
		args = append(args, "-profile:v", "main10")
	}
	return append(args, "-f", "null", "-")
}

// EncodersListArgs lists the encoders compiled into the binary.
func EncodersListArgs() []string {
	return append(Base(), "-encoders")
}

// EncoderHelpArgs describes one encoder, including supported pixel formats.
func EncoderHelpArgs(name string) []string {
	return append(Base(), "-h", "encoder="+name)
}
