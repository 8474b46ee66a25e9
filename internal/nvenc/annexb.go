package nvenc

import "bytes"

// StartCode is the four byte Annex-B NAL unit prefix.
var StartCode = []byte{0, 0, 0, 1}

// WithStartCode returns data prefixed with StartCode unless it already
// begins with one. The result never aliases data.
func WithStartCode(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	if bytes.HasPrefix(data, StartCode) {
		return bytes.Clone(data)
	}
	out := make([]byte, 0, len(StartCode)+len(data))
	out = append(out, StartCode...)
	return append(out, data...)
}

// NALUnit is one Annex-B NAL unit including its start code.
type NALUnit struct {
	Offset int
	Data   []byte
}

// SplitNALUnits splits an Annex-B stream on three or four byte start codes.
// Bytes before the first start code are ignored.
func SplitNALUnits(stream []byte) []NALUnit {
	var units []NALUnit
	start := -1
	for i := 0; i+3 <= len(stream); {
		if stream[i] == 0 && stream[i+1] == 0 && stream[i+2] == 1 {
			codeStart := i
			if i > 0 && stream[i-1] == 0 {
				codeStart = i - 1
			}
			if start >= 0 {
				units = append(units, NALUnit{Offset: start, Data: stream[start:codeStart]})
			}
			start = codeStart
			i += 3
			continue
		}
		i++
	}
	if start >= 0 {
		units = append(units, NALUnit{Offset: start, Data: stream[start:]})
	}
	return units
}

// payload returns the NAL unit bytes after the start code.
func (n NALUnit) payload() []byte {
	i := 0
	for i < len(n.Data) && n.Data[i] == 0 {
		i++
	}
	if i < len(n.Data) && n.Data[i] == 1 {
		i++
	}
	return n.Data[i:]
}

// Type returns the NAL unit type for codec.
func (n NALUnit) Type(codec Codec) int {
	p := n.payload()
	if len(p) == 0 {
		return -1
	}
	if codec == CodecHEVC {
		return int(p[0]>>1) & 0x3f
	}
	return int(p[0]) & 0x1f
}

const (
	h264NALIDR = 5
	h264NALSPS = 7
	h264NALPPS = 8
	h264NALAUD = 9

	hevcNALIDRWRADL = 19
	hevcNALIDRNLP   = 20
	hevcNALCRA      = 21
	hevcNALVPS      = 32
	hevcNALSPS      = 33
	hevcNALPPS      = 34
	hevcNALAUD      = 35
)

// IsAccessUnitDelimiter reports whether n starts a new access unit.
func (n NALUnit) IsAccessUnitDelimiter(codec Codec) bool {
	t := n.Type(codec)
	if codec == CodecHEVC {
		return t == hevcNALAUD
	}
	return t == h264NALAUD
}

// IsParameterSet reports whether n is a VPS, SPS or PPS.
func (n NALUnit) IsParameterSet(codec Codec) bool {
	t := n.Type(codec)
	if codec == CodecHEVC {
		return t == hevcNALVPS || t == hevcNALSPS || t == hevcNALPPS
	}
	return t == h264NALSPS || t == h264NALPPS
}

// IsRandomAccess reports whether n is an IDR or CRA slice.
func (n NALUnit) IsRandomAccess(codec Codec) bool {
	t := n.Type(codec)
	if codec == CodecHEVC {
		return t == hevcNALIDRWRADL || t == hevcNALIDRNLP || t == hevcNALCRA
	}
	return t == h264NALIDR
}

// ParameterSets returns the concatenated parameter set NAL units of an
// access unit, or nil when it carries none.
func ParameterSets(au []byte, codec Codec) []byte {
	var out []byte
	for _, n := range SplitNALUnits(au) {
		if n.IsParameterSet(codec) {
			out = append(out, WithStartCode(n.payload())...)
		}
	}
	return out
}

// ClassifyAccessUnit returns IDR for random access units and P otherwise.
func ClassifyAccessUnit(au []byte, codec Codec) PictureType {
	for _, n := range SplitNALUnits(au) {
		if n.IsRandomAccess(codec) {
			return PictureIDR
		}
	}
	return PictureP
}
