package nvenc_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/nvenc/nvenctest"
)

func testParams() nvenc.Parameters {
	return nvenc.Parameters{
		Codec:     nvenc.CodecH264,
		Format:    frame.FormatNV12,
		Width:     128,
		Height:    64,
		FrameRate: 30,
		GOPLength: 30,
	}
}

func plane() []*frame.Texture {
	return []*frame.Texture{frame.NewTexture(128, 64, frame.FormatNV12, make([]byte, 128*64*3/2), nil)}
}

func openSession(t *testing.T, rt *nvenctest.Runtime) *nvenc.Session {
	t.Helper()
	s := nvenc.NewSession(rt)
	if err := s.Open(context.Background(), nvenc.CodecH264, nvenc.Device{Kind: nvenc.DeviceD3D11}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	rt := nvenctest.New()
	s := openSession(t, rt)

	if s.State() != nvenc.StateOpen {
		t.Fatalf("state = %v, want Open", s.State())
	}
	if err := s.Initialize(ctx, testParams()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if s.State() != nvenc.StateInitialized {
		t.Fatalf("state = %v, want Initialized", s.State())
	}

	packets, err := s.EncodeFrame(ctx, plane(), frame.Metadata{FrameIndex: 0})
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	if len(packets) != 1 || !packets[0].KeyFrame {
		t.Fatalf("first frame packets = %+v, want one key frame", packets)
	}

	if _, err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if s.State() != nvenc.StateFlushed {
		t.Fatalf("state = %v, want Flushed", s.State())
	}

	s.Destroy()
	s.Destroy()
	if s.State() != nvenc.StateDestroyed {
		t.Fatalf("state = %v, want Destroyed", s.State())
	}
	if c := rt.Snapshot(); c.Closes != 1 {
		t.Errorf("runtime sessions closed %d times, want 1", c.Closes)
	}
}

func TestSessionDestroyClosedIsNoop(t *testing.T) {
	s := nvenc.NewSession(nvenctest.New())
	s.Destroy()
	if s.State() != nvenc.StateClosed {
		t.Errorf("state = %v, want Closed", s.State())
	}
}

func TestSessionInitializeBeforeOpen(t *testing.T) {
	s := nvenc.NewSession(nvenctest.New())

	err := s.Initialize(context.Background(), testParams())
	if !errors.Is(err, nvenc.ErrNotOpen) {
		t.Fatalf("Initialize() error = %v, want ErrNotOpen", err)
	}
	want := "Cannot initialise NVENC session – encoder is not open."
	if s.LastError() != want {
		t.Errorf("LastError() = %q, want %q", s.LastError(), want)
	}
}

func TestSessionInitializeTwice(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, nvenctest.New())
	if err := s.Initialize(ctx, testParams()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := s.Initialize(ctx, testParams()); !errors.Is(err, nvenc.ErrAlreadyInitialized) {
		t.Errorf("second Initialize() error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestSessionOpenWithoutRuntime(t *testing.T) {
	s := nvenc.NewSession(nil)
	if err := s.Open(context.Background(), nvenc.CodecH264, nvenc.Device{}); err == nil {
		t.Fatal("Open() with nil runtime succeeded")
	}
	want := "Failed to open NVENC session – NVENC runtime is unavailable."
	if s.LastError() != want {
		t.Errorf("LastError() = %q, want %q", s.LastError(), want)
	}
}

func TestSessionEncodeBeforeInitialize(t *testing.T) {
	s := openSession(t, nvenctest.New())
	_, err := s.EncodeFrame(context.Background(), plane(), frame.Metadata{})
	if !errors.Is(err, nvenc.ErrNotInitialized) {
		t.Errorf("EncodeFrame() error = %v, want ErrNotInitialized", err)
	}
}

func TestSessionInteropStrategies(t *testing.T) {
	nativeErr := errors.New("native interop unsupported")

	tests := []struct {
		name       string
		device     nvenc.Device
		preferred  nvenc.Interop
		failNative bool
		wantTried  []nvenc.Interop
		wantChosen nvenc.Interop
		wantErr    bool
	}{
		{
			name:       "d3d12 native succeeds",
			device:     nvenc.Device{Kind: nvenc.DeviceD3D12},
			preferred:  nvenc.InteropNative,
			wantTried:  []nvenc.Interop{nvenc.InteropNative},
			wantChosen: nvenc.InteropNative,
		},
		{
			name:       "d3d12 native falls back to bridge once",
			device:     nvenc.Device{Kind: nvenc.DeviceD3D12},
			preferred:  nvenc.InteropNative,
			failNative: true,
			wantTried:  []nvenc.Interop{nvenc.InteropNative, nvenc.InteropBridge},
			wantChosen: nvenc.InteropBridge,
		},
		{
			name:       "d3d12 bridge preferred",
			device:     nvenc.Device{Kind: nvenc.DeviceD3D12},
			preferred:  nvenc.InteropBridge,
			failNative: true,
			wantTried:  []nvenc.Interop{nvenc.InteropBridge},
			wantChosen: nvenc.InteropBridge,
		},
		{
			name:       "d3d11 uses direct",
			device:     nvenc.Device{Kind: nvenc.DeviceD3D11},
			preferred:  nvenc.InteropNative,
			wantTried:  []nvenc.Interop{nvenc.InteropDirect},
			wantChosen: nvenc.InteropDirect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := nvenctest.New()
			if tt.failNative {
				rt.FailInterop(nvenc.InteropNative, nativeErr)
			}
			s := nvenc.NewSession(rt)
			s.SetPreferredInterop(tt.preferred)

			err := s.Open(context.Background(), nvenc.CodecH264, tt.device)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !slices.Equal(rt.InteropsTried, tt.wantTried) {
				t.Errorf("tried %v, want %v", rt.InteropsTried, tt.wantTried)
			}
			if s.Interop() != tt.wantChosen {
				t.Errorf("Interop() = %v, want %v", s.Interop(), tt.wantChosen)
			}
		})
	}
}

func TestSessionBothInteropsFail(t *testing.T) {
	rt := nvenctest.New()
	rt.FailInterop(nvenc.InteropNative, errors.New("native"))
	rt.FailInterop(nvenc.InteropBridge, errors.New("bridge"))

	s := nvenc.NewSession(rt)
	if err := s.Open(context.Background(), nvenc.CodecHEVC, nvenc.Device{Kind: nvenc.DeviceD3D12}); err == nil {
		t.Fatal("Open() succeeded with both interops failing")
	}
	if len(rt.InteropsTried) != 2 {
		t.Errorf("tried %d strategies, want 2", len(rt.InteropsTried))
	}
	if s.State() != nvenc.StateClosed {
		t.Errorf("state = %v, want Closed", s.State())
	}
}

func TestSessionReleasesResourcesOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(rt *nvenctest.Runtime)
	}{
		{"map fails", func(rt *nvenctest.Runtime) { rt.MapErr = errors.New("map") }},
		{"submit fails", func(rt *nvenctest.Runtime) { rt.SubmitErr = errors.New("submit") }},
		{"lock fails", func(rt *nvenctest.Runtime) { rt.LockErr = errors.New("lock") }},
		{"success", func(*nvenctest.Runtime) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			rt := nvenctest.New()
			s := openSession(t, rt)
			if err := s.Initialize(ctx, testParams()); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			tt.setup(rt)

			planes := []*frame.Texture{plane()[0], plane()[0]}
			_, _ = s.EncodeFrame(ctx, planes, frame.Metadata{FrameIndex: 3})

			c := rt.Snapshot()
			if c.Registers != c.Unregisters {
				t.Errorf("registers %d != unregisters %d", c.Registers, c.Unregisters)
			}
			if c.Maps != c.Unmaps {
				t.Errorf("maps %d != unmaps %d", c.Maps, c.Unmaps)
			}
			if c.Locks != c.Unlocks {
				t.Errorf("locks %d != unlocks %d", c.Locks, c.Unlocks)
			}
		})
	}
}

func TestSessionKeyframeCadence(t *testing.T) {
	ctx := context.Background()
	rt := nvenctest.New()
	s := openSession(t, rt)
	p := testParams()
	p.GOPLength = 4
	if err := s.Initialize(ctx, p); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	var keys []uint32
	for i := uint32(1); i <= 9; i++ {
		if i == 6 {
			s.RequestKeyframe()
		}
		packets, err := s.EncodeFrame(ctx, plane(), frame.Metadata{FrameIndex: i})
		if err != nil {
			t.Fatalf("EncodeFrame(%d) error = %v", i, err)
		}
		for _, pkt := range packets {
			if pkt.KeyFrame {
				keys = append(keys, pkt.FrameIndex)
			}
		}
	}

	want := []uint32{1, 4, 6, 8}
	if !slices.Equal(keys, want) {
		t.Errorf("key frames = %v, want %v", keys, want)
	}
}

func TestSessionSequenceHeader(t *testing.T) {
	ctx := context.Background()
	rt := nvenctest.New()
	rt.NoSequenceParams = true
	s := openSession(t, rt)
	if err := s.Initialize(ctx, testParams()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if h := s.SequenceHeader(); h != nil {
		t.Fatalf("header before first frame = %x, want nil", h)
	}

	if _, err := s.EncodeFrame(ctx, plane(), frame.Metadata{}); err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	want := nvenc.WithStartCode(nvenctest.Header)
	if got := s.SequenceHeader(); !slices.Equal(got, want) {
		t.Errorf("header = %x, want %x", got, want)
	}
}

func TestSessionReopenDestroysPrevious(t *testing.T) {
	rt := nvenctest.New()
	s := openSession(t, rt)
	if err := s.Open(context.Background(), nvenc.CodecHEVC, nvenc.Device{Kind: nvenc.DeviceCUDA}); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	c := rt.Snapshot()
	if c.Opens != 2 || c.Closes != 1 {
		t.Errorf("opens=%d closes=%d, want 2 and 1", c.Opens, c.Closes)
	}
	if s.State() != nvenc.StateOpen {
		t.Errorf("state = %v, want Open", s.State())
	}
}
