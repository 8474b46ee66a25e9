package preview

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"

	"github.com/smazurov/omnicapture/internal/nvenc"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1f, 0xda, 0x01}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testP   = []byte{0x41, 0x9a, 0x02, 0x04}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, nvenc.WithStartCode(n)...)
	}
	return out
}

func carriesSPS(packets []*rtp.Packet) bool {
	for _, p := range packets {
		if len(p.Payload) == 0 {
			continue
		}
		switch p.Payload[0] & 0x1f {
		case 7:
			return true
		case 24: // STAP-A
			if bytes.Contains(p.Payload, testSPS) {
				return true
			}
		}
	}
	return false
}

func TestKeyframeGetsSequenceHeader(t *testing.T) {
	s := newStream(nvenc.CodecH264, 1234)
	s.setHeader(annexB(testSPS, testPPS))

	packets := s.packetize(nvenc.Packet{Data: annexB(testIDR), KeyFrame: true})
	if len(packets) == 0 {
		t.Fatal("no packets")
	}
	if !carriesSPS(packets) {
		t.Error("key frame sent without parameter sets")
	}
}

func TestDeltaFrameHasNoHeader(t *testing.T) {
	s := newStream(nvenc.CodecH264, 1234)
	s.setHeader(annexB(testSPS, testPPS))

	packets := s.packetize(nvenc.Packet{Data: annexB(testP)})
	if len(packets) != 1 {
		t.Fatalf("packets = %d, want 1", len(packets))
	}
	if carriesSPS(packets) {
		t.Error("delta frame carries parameter sets")
	}
	if got := packets[0].Payload[0] & 0x1f; got != 1 {
		t.Errorf("nal type = %d, want 1", got)
	}
}

func TestInBandParameterSetsAreRemembered(t *testing.T) {
	s := newStream(nvenc.CodecH264, 1234)
	s.packetize(nvenc.Packet{Data: annexB(testSPS, testPPS, testIDR), KeyFrame: true})
	if s.header == nil {
		t.Fatal("header not learned from in-band parameter sets")
	}

	packets := s.packetize(nvenc.Packet{Data: annexB(testIDR), KeyFrame: true, Timestamp: 1})
	if !carriesSPS(packets) {
		t.Error("later key frame sent without parameter sets")
	}
}

func TestEmptyPacket(t *testing.T) {
	s := newStream(nvenc.CodecHEVC, 1)
	if got := s.packetize(nvenc.Packet{}); got != nil {
		t.Errorf("packetize(empty) = %v", got)
	}
}

func TestTimestampAdvance(t *testing.T) {
	s := newStream(nvenc.CodecH264, 1234)

	first := s.packetize(nvenc.Packet{Data: annexB(testP), Timestamp: 2.0})
	second := s.packetize(nvenc.Packet{Data: annexB(testP), Timestamp: 2.0 + 1.0/30})
	if len(first) == 0 || len(second) == 0 {
		t.Fatal("no packets")
	}
	if got := second[0].Timestamp - first[0].Timestamp; got != 3000 {
		t.Errorf("timestamp delta = %d, want 3000", got)
	}
}

func TestSamples(t *testing.T) {
	tests := []struct {
		name string
		ts   []float64
		want uint32
	}{
		{"first packet", []float64{5}, 0},
		{"one frame at 60fps", []float64{0, 1.0 / 60}, 1500},
		{"clock went backwards", []float64{1, 0.5}, 0},
		{"repeated timestamp", []float64{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &stream{}
			var got uint32
			for _, ts := range tt.ts {
				got = s.samples(ts)
			}
			if got != tt.want {
				t.Errorf("samples = %d, want %d", got, tt.want)
			}
		})
	}
}
