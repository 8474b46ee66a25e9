package preview

import (
	"fmt"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/twcc"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/omnicapture/internal/nvenc"
)

const (
	// NACKBufferSize is the number of packets kept for retransmission.
	// Encoded captures run at tens of megabits, so the pion default of 64
	// covers only a few milliseconds.
	NACKBufferSize = 8192
	// SRTPReplayProtectionWindow must be at least NACKBufferSize.
	SRTPReplayProtectionWindow = 10000
)

var videoFeedback = []pion.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: pion.TypeRTCPFBTransportCC},
}

// offeredCodec is one payload type advertised to viewers.
type offeredCodec struct {
	codec nvenc.Codec
	rtp   core.Codec
}

// offeredCodecs lists what the encoder can produce. The first H.264 entry is
// constrained baseline so every browser has a decodable match; the second
// admits High profile up to level 5.2 for 4K captures.
var offeredCodecs = []offeredCodec{
	{nvenc.CodecH264, core.Codec{
		Name:        core.CodecH264,
		ClockRate:   clockRate,
		PayloadType: 96,
		FmtpLine:    "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
	}},
	{nvenc.CodecH264, core.Codec{
		Name:        core.CodecH264,
		ClockRate:   clockRate,
		PayloadType: 102,
		FmtpLine:    "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640034",
	}},
	{nvenc.CodecHEVC, core.Codec{Name: core.CodecH265, ClockRate: clockRate, PayloadType: 103}},
}

// mimeType is the WebRTC media type of c, e.g. video/H264.
func (c offeredCodec) mimeType() string {
	return core.KindVideo + "/" + c.rtp.Name
}

func (c offeredCodec) capability(feedback []pion.RTCPFeedback) pion.RTPCodecCapability {
	return pion.RTPCodecCapability{
		MimeType:     c.mimeType(),
		ClockRate:    c.rtp.ClockRate,
		SDPFmtpLine:  c.rtp.FmtpLine,
		RTCPFeedback: feedback,
	}
}

// trackCapability is the codec a local track for codec is bound with: the
// first offered entry of that codec.
func trackCapability(codec nvenc.Codec) pion.RTPCodecCapability {
	for _, c := range offeredCodecs {
		if c.codec == codec {
			return c.capability(nil)
		}
	}
	return offeredCodecs[0].capability(nil)
}

// newAPI creates the WebRTC API shared by all viewers.
func newAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	for _, c := range offeredCodecs {
		params := pion.RTPCodecParameters{RTPCodecCapability: c.capability(videoFeedback), PayloadType: pion.PayloadType(c.rtp.PayloadType)}
		if err := m.RegisterCodec(params, pion.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register %s/%d: %w", c.rtp.Name, c.rtp.PayloadType, err)
		}
	}

	registry := &interceptor.Registry{}
	if err := addInterceptors(registry); err != nil {
		return nil, err
	}

	s := pion.SettingEngine{}
	s.SetSRTPReplayProtectionWindow(SRTPReplayProtectionWindow)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
		pion.WithSettingEngine(s),
	), nil
}

// addInterceptors answers NACKs from a large history, sends sender reports
// and transport-wide congestion feedback.
func addInterceptors(registry *interceptor.Registry) error {
	responder, err := nack.NewResponderInterceptor(nack.ResponderSize(NACKBufferSize))
	if err != nil {
		return fmt.Errorf("nack responder: %w", err)
	}
	sender, err := report.NewSenderInterceptor()
	if err != nil {
		return fmt.Errorf("sender reports: %w", err)
	}
	cc, err := twcc.NewSenderInterceptor()
	if err != nil {
		return fmt.Errorf("twcc: %w", err)
	}
	registry.Add(responder)
	registry.Add(sender)
	registry.Add(cc)
	return nil
}
