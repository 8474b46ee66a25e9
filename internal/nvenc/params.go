package nvenc

import (
	"math"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/settings"
)

// RateControlMode is the encoder rate control algorithm.
type RateControlMode int

const (
	RateControlCBR RateControlMode = iota
	RateControlVBR
	RateControlConstQP
)

func (m RateControlMode) String() string {
	switch m {
	case RateControlVBR:
		return "VBR"
	case RateControlConstQP:
		return "ConstQP"
	default:
		return "CBR"
	}
}

// MultipassMode controls how many passes the encoder runs per frame.
type MultipassMode int

const (
	MultipassDisabled MultipassMode = iota
	MultipassQuarter
	MultipassFull
)

// Parameters configure Session.Initialize.
type Parameters struct {
	Codec                Codec
	Format               frame.PixelFormat
	Width                int
	Height               int
	FrameRate            int
	TargetBitrate        int
	MaxBitrate           int
	GOPLength            int
	BFrames              int
	RateControl          RateControlMode
	Multipass            MultipassMode
	AdaptiveQuantization bool
	Lookahead            bool
	LowLatency           bool
	QPMin                int
	QPMax                int
}

// ParametersFromSettings derives encoder parameters for a frame of size.
func ParametersFromSettings(s settings.Settings, size settings.Size) Parameters {
	q := s.Quality
	lossless := q.RateControl == settings.RateControlLossless

	p := Parameters{
		Codec:                CodecFromSettings(s.Codec),
		Format:               PixelFormatFromSettings(s.ColorFormat),
		Width:                size.Width,
		Height:               size.Height,
		FrameRate:            min(max(int(math.Round(s.TargetFrameRate)), 1), 120),
		TargetBitrate:        q.TargetBitrateKbps * 1000,
		GOPLength:            max(1, q.GOPLength),
		BFrames:              max(0, q.BFrames),
		RateControl:          rateControlFromSettings(q.RateControl),
		Multipass:            MultipassFull,
		AdaptiveQuantization: !lossless,
		Lookahead:            !q.LowLatency,
		LowLatency:           q.LowLatency,
		QPMin:                0,
		QPMax:                51,
	}
	p.MaxBitrate = max(q.MaxBitrateKbps*1000, p.TargetBitrate)
	if q.LowLatency {
		p.Multipass = MultipassDisabled
	}
	if lossless {
		p.QPMax = 0
	}
	return p
}

// CodecFromSettings maps the configured codec.
func CodecFromSettings(c settings.Codec) Codec {
	if c == settings.CodecHEVC {
		return CodecHEVC
	}
	return CodecH264
}

// PixelFormatFromSettings maps the configured encoder input format.
func PixelFormatFromSettings(c settings.ColorFormat) frame.PixelFormat {
	switch c {
	case settings.ColorP010:
		return frame.FormatP010
	case settings.ColorBGRA:
		return frame.FormatBGRA
	default:
		return frame.FormatNV12
	}
}

// Lossless is encoded as constant QP with a zero QP range.
func rateControlFromSettings(rc settings.RateControl) RateControlMode {
	switch rc {
	case settings.RateControlVBR:
		return RateControlVBR
	case settings.RateControlConstQP, settings.RateControlLossless:
		return RateControlConstQP
	default:
		return RateControlCBR
	}
}
