package preview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/omnicapture/internal/nvenc"
)

type fakeSource struct {
	mu        sync.Mutex
	sinks     []nvenc.PacketSink
	keyframes int
	header    []byte
}

func (f *fakeSource) AddPacketSink(fn nvenc.PacketSink) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sinks = nil
	}
}

func (f *fakeSource) RequestKeyframe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyframes++
}

func (f *fakeSource) SequenceHeader() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.header
}

func (f *fakeSource) sinkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartStopRegistersSink(t *testing.T) {
	src := &fakeSource{}
	m, err := NewManager(src, Config{}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.Start(context.Background())
	m.Start(context.Background())
	if got := src.sinkCount(); got != 1 {
		t.Fatalf("sinks after Start = %d, want 1", got)
	}

	m.Stop()
	if got := src.sinkCount(); got != 0 {
		t.Errorf("sinks after Stop = %d, want 0", got)
	}
}

func TestEnqueueWithoutViewers(t *testing.T) {
	m, err := NewManager(&fakeSource{}, Config{QueueSize: 1}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.enqueue(nvenc.CodecH264, nvenc.Packet{Data: annexB(testP)})
	if got := len(m.queue); got != 0 {
		t.Errorf("queued %d packets with no viewers", got)
	}
}

func TestEnqueueCopiesData(t *testing.T) {
	m, err := NewManager(&fakeSource{}, Config{QueueSize: 1}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.peerCount.Store(1)

	data := annexB(testP)
	m.enqueue(nvenc.CodecH264, nvenc.Packet{Data: data})
	m.enqueue(nvenc.CodecH264, nvenc.Packet{Data: data})
	data[4] = 0xff

	if got := len(m.queue); got != 1 {
		t.Fatalf("queue length = %d, want 1 (second packet dropped)", got)
	}
	j := <-m.queue
	if j.packet.Data[4] != testP[0] {
		t.Error("queued packet aliases encoder memory")
	}
}

func TestCodecSwitchResetsHeader(t *testing.T) {
	m, err := NewManager(&fakeSource{}, Config{Codec: nvenc.CodecH264}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.streams[nvenc.CodecHEVC].header = []byte{0, 0, 0, 1, 0x40}

	m.switchCodec(nvenc.CodecHEVC)
	if got := m.Codec(); got != nvenc.CodecHEVC {
		t.Errorf("Codec = %s, want HEVC", got)
	}
	if m.streams[nvenc.CodecHEVC].header != nil {
		t.Error("stale header kept across codec switch")
	}
}

func TestWriteAsksForSequenceHeader(t *testing.T) {
	src := &fakeSource{header: annexB(testSPS, testPPS)}
	m, err := NewManager(src, Config{}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	m.write(job{codec: nvenc.CodecH264, packet: nvenc.Packet{Data: annexB(testIDR), KeyFrame: true}})
	if m.streams[nvenc.CodecH264].header == nil {
		t.Error("header not fetched for first key frame")
	}
}

func TestHandleOffer(t *testing.T) {
	src := &fakeSource{}
	m, err := NewManager(src, Config{}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.Start(context.Background())
	defer m.Stop()

	viewer, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	defer viewer.Close()

	if _, err := viewer.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatal(err)
	}
	offer, err := viewer.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := pion.GatheringCompletePromise(viewer)
	if err := viewer.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatal("viewer gathering timed out")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := m.HandleOffer(ctx, viewer.LocalDescription().SDP)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if !strings.Contains(answer, "H264") {
		t.Errorf("answer does not negotiate H264:\n%s", answer)
	}
	if got := m.PeerCount(); got != 1 {
		t.Errorf("PeerCount = %d, want 1", got)
	}

	if err := viewer.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Errorf("viewer rejected answer: %v", err)
	}
}

func TestHandleOfferRejectsGarbage(t *testing.T) {
	m, err := NewManager(&fakeSource{}, Config{}, quietLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.HandleOffer(context.Background(), "not sdp"); err == nil {
		t.Error("expected error for invalid offer")
	}
	if got := m.PeerCount(); got != 0 {
		t.Errorf("PeerCount = %d, want 0", got)
	}
}

func TestTrackCapability(t *testing.T) {
	tests := []struct {
		codec    nvenc.Codec
		mime     string
		baseline bool
	}{
		{nvenc.CodecH264, pion.MimeTypeH264, true},
		{nvenc.CodecHEVC, pion.MimeTypeH265, false},
	}
	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			c := trackCapability(tt.codec)
			if c.MimeType != tt.mime || c.ClockRate != clockRate {
				t.Errorf("capability = %+v", c)
			}
			if got := strings.Contains(c.SDPFmtpLine, "42e01f"); got != tt.baseline {
				t.Errorf("fmtp %q baseline = %v, want %v", c.SDPFmtpLine, got, tt.baseline)
			}
		})
	}
}

func TestOfferedCodecs(t *testing.T) {
	mimes := map[nvenc.Codec]string{
		nvenc.CodecH264: pion.MimeTypeH264,
		nvenc.CodecHEVC: pion.MimeTypeH265,
	}
	seen := map[uint8]bool{}
	for _, c := range offeredCodecs {
		t.Run(fmt.Sprintf("%s/%d", c.rtp.Name, c.rtp.PayloadType), func(t *testing.T) {
			if got := c.mimeType(); got != mimes[c.codec] {
				t.Errorf("mimeType() = %q, want %q", got, mimes[c.codec])
			}
			if c.rtp.ClockRate != clockRate {
				t.Errorf("ClockRate = %d, want %d", c.rtp.ClockRate, clockRate)
			}
			if seen[c.rtp.PayloadType] {
				t.Errorf("payload type %d offered twice", c.rtp.PayloadType)
			}
			seen[c.rtp.PayloadType] = true
		})
	}
	if _, err := newAPI(); err != nil {
		t.Fatalf("newAPI() error = %v", err)
	}
}
