package preview

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/smazurov/omnicapture/internal/nvenc"
)

const (
	clockRate = 90000
	// rtpMTU leaves room for SRTP and the RTP header extensions.
	rtpMTU = 1200
)

// stream turns encoder access units into RTP packets for one codec. Late
// joining viewers need parameter sets before the first key frame, so key
// frames without in-band parameter sets get the sequence header prepended.
type stream struct {
	codec      nvenc.Codec
	packetizer rtp.Packetizer
	header     []byte
	lastTS     float64
	started    bool
}

func newStream(codec nvenc.Codec, ssrc uint32) *stream {
	var payloader rtp.Payloader = &codecs.H264Payloader{}
	if codec == nvenc.CodecHEVC {
		payloader = &codecs.H265Payloader{}
	}
	return &stream{
		codec:      codec,
		packetizer: rtp.NewPacketizer(rtpMTU, 0, ssrc, payloader, rtp.NewRandomSequencer(), clockRate),
	}
}

// setHeader remembers the codec configuration to inject before key frames.
func (s *stream) setHeader(header []byte) {
	if len(header) > 0 {
		s.header = header
	}
}

// packetize returns the RTP packets for p.
func (s *stream) packetize(p nvenc.Packet) []*rtp.Packet {
	if len(p.Data) == 0 {
		return nil
	}

	if sets := nvenc.ParameterSets(p.Data, s.codec); sets != nil {
		s.header = sets
	}

	data := p.Data
	if p.KeyFrame && s.header != nil && nvenc.ParameterSets(p.Data, s.codec) == nil {
		data = make([]byte, 0, len(s.header)+len(p.Data))
		data = append(data, s.header...)
		data = append(data, p.Data...)
	}

	return s.packetizer.Packetize(data, s.samples(p.Timestamp))
}

// samples converts the time since the previous packet into clock ticks.
func (s *stream) samples(ts float64) uint32 {
	if !s.started {
		s.started = true
		s.lastTS = ts
		return 0
	}
	delta := ts - s.lastTS
	s.lastTS = ts
	if delta <= 0 {
		return 0
	}
	return uint32(delta*clockRate + 0.5)
}
