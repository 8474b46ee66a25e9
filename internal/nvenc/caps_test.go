package nvenc_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/nvenc/nvenctest"
)

func TestProberAllSupported(t *testing.T) {
	rt := nvenctest.New()
	p := nvenc.NewProber(rt.Loader(), nvenc.WithProbeDevice(nvenc.Device{Kind: nvenc.DeviceD3D11}))

	caps := p.Query(context.Background())
	checks := map[string]bool{
		"RuntimeLoaded":     caps.RuntimeLoaded,
		"APIsReady":         caps.APIsReady,
		"SessionOpenable":   caps.SessionOpenable,
		"SupportsH264":      caps.SupportsH264,
		"SupportsHEVC":      caps.SupportsHEVC,
		"SupportsNV12":      caps.SupportsNV12,
		"SupportsP010":      caps.SupportsP010,
		"SupportsBGRA":      caps.SupportsBGRA,
		"Supports10Bit":     caps.Supports10Bit,
		"SupportsZeroCopy":  caps.SupportsZeroCopy,
		"HardwareAvailable": caps.HardwareAvailable,
	}
	for name, ok := range checks {
		if !ok {
			t.Errorf("%s = false, want true", name)
		}
	}
	if caps.RuntimePath != "<system>" {
		t.Errorf("RuntimePath = %q, want <system>", caps.RuntimePath)
	}
}

func TestProberFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(rt *nvenctest.Runtime)
		device nvenc.Device
		check  func(t *testing.T, c nvenc.Capabilities)
	}{
		{
			name:   "apis unresolved",
			setup:  func(rt *nvenctest.Runtime) { rt.ResolveErr = errors.New("missing entry point") },
			device: nvenc.Device{Kind: nvenc.DeviceD3D11},
			check: func(t *testing.T, c nvenc.Capabilities) {
				if !c.RuntimeLoaded || c.APIsReady || c.HardwareAvailable {
					t.Errorf("unexpected flags %+v", c)
				}
				if c.APIsReason != "APIs not ready: missing entry point" {
					t.Errorf("APIsReason = %q", c.APIsReason)
				}
				if c.HardwareReason != c.APIsReason {
					t.Errorf("HardwareReason = %q, want %q", c.HardwareReason, c.APIsReason)
				}
			},
		},
		{
			name: "baseline session fails",
			setup: func(rt *nvenctest.Runtime) {
				rt.FailCombination(nvenc.CodecH264, frame.FormatNV12, errors.New("no device"))
			},
			device: nvenc.Device{Kind: nvenc.DeviceD3D11},
			check: func(t *testing.T, c nvenc.Capabilities) {
				if c.SessionOpenable || c.HardwareAvailable || c.SupportsHEVC {
					t.Errorf("unexpected flags %+v", c)
				}
				if !strings.Contains(c.SessionReason, "no device") {
					t.Errorf("SessionReason = %q", c.SessionReason)
				}
			},
		},
		{
			name:   "hevc unsupported",
			setup:  func(rt *nvenctest.Runtime) { rt.FailCodec(nvenc.CodecHEVC, errors.New("not licensed")) },
			device: nvenc.Device{Kind: nvenc.DeviceD3D11},
			check: func(t *testing.T, c nvenc.Capabilities) {
				if !c.HardwareAvailable || c.SupportsHEVC || c.SupportsP010 || c.Supports10Bit {
					t.Errorf("unexpected flags %+v", c)
				}
				if !strings.Contains(c.HEVCReason, "not licensed") {
					t.Errorf("HEVCReason = %q", c.HEVCReason)
				}
				if c.P010Reason == "" {
					t.Error("P010Reason is empty")
				}
			},
		},
		{
			name: "p010 unsupported",
			setup: func(rt *nvenctest.Runtime) {
				rt.FailCombination(nvenc.CodecHEVC, frame.FormatP010, errors.New("format rejected"))
			},
			device: nvenc.Device{Kind: nvenc.DeviceD3D11},
			check: func(t *testing.T, c nvenc.Capabilities) {
				if !c.SupportsHEVC || c.SupportsP010 || c.Supports10Bit {
					t.Errorf("unexpected flags %+v", c)
				}
				if !strings.Contains(c.P010Reason, "format rejected") {
					t.Errorf("P010Reason = %q", c.P010Reason)
				}
			},
		},
		{
			name:   "cpu device has no zero copy",
			setup:  func(*nvenctest.Runtime) {},
			device: nvenc.Device{Kind: nvenc.DeviceCPU},
			check: func(t *testing.T, c nvenc.Capabilities) {
				if c.SupportsZeroCopy || c.ZeroCopyReason == "" {
					t.Errorf("zero copy = %v reason %q", c.SupportsZeroCopy, c.ZeroCopyReason)
				}
				if !c.HardwareAvailable {
					t.Error("HardwareAvailable = false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := nvenctest.New()
			tt.setup(rt)
			p := nvenc.NewProber(rt.Loader(), nvenc.WithProbeDevice(tt.device))
			tt.check(t, p.Query(context.Background()))
		})
	}
}

func TestProberLoadOrder(t *testing.T) {
	var tried []string
	loader := nvenc.LoaderFunc(func(_ context.Context, location string) (nvenc.Runtime, error) {
		tried = append(tried, location)
		return nil, errors.New("not found")
	})
	p := nvenc.NewProber(loader, nvenc.WithBundledDirectory("/opt/bundled"))
	p.SetLibraryPathOverride("/custom/lib.so")
	p.SetRuntimeDirectoryOverride("/custom")

	caps := p.Query(context.Background())
	want := []string{"/custom/lib.so", "/custom", "/opt/bundled", ""}
	if strings.Join(tried, ",") != strings.Join(want, ",") {
		t.Errorf("tried %q, want %q", tried, want)
	}
	if caps.RuntimeLoaded || caps.RuntimeReason == "" {
		t.Errorf("RuntimeLoaded = %v reason %q", caps.RuntimeLoaded, caps.RuntimeReason)
	}
	if p.Runtime(context.Background()) != nil {
		t.Error("Runtime() should be nil after failed load")
	}
}

func TestProberCaching(t *testing.T) {
	loads := 0
	rt := nvenctest.New()
	loader := nvenc.LoaderFunc(func(context.Context, string) (nvenc.Runtime, error) {
		loads++
		return rt, nil
	})
	p := nvenc.NewProber(loader)
	ctx := context.Background()

	p.Query(ctx)
	p.Query(ctx)
	if loads != 1 {
		t.Fatalf("loads = %d after cached query, want 1", loads)
	}

	p.SetRuntimeDirectoryOverride("")
	p.Query(ctx)
	if loads != 1 {
		t.Fatalf("unchanged override invalidated the cache")
	}

	p.SetRuntimeDirectoryOverride("/elsewhere")
	if _, ok := p.Cached(); ok {
		t.Fatal("cache survived override change")
	}
	p.Query(ctx)
	if loads != 2 {
		t.Errorf("loads = %d after override change, want 2", loads)
	}

	p.Invalidate()
	p.Query(ctx)
	if loads != 3 {
		t.Errorf("loads = %d after Invalidate, want 3", loads)
	}
}

type stallingLoader struct{}

func (stallingLoader) Load(ctx context.Context, location string) (nvenc.Runtime, error) {
	if location == "/slow" {
		time.Sleep(time.Second)
		return nil, nil
	}
	return nvenctest.New(), nil
}

func TestProberStepTimeout(t *testing.T) {
	p := nvenc.NewProber(stallingLoader{}, nvenc.WithStepTimeout(20*time.Millisecond))
	p.SetLibraryPathOverride("/slow")

	start := time.Now()
	caps := p.Query(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("probe took %v, step timeout not applied", elapsed)
	}
	if !caps.RuntimeLoaded {
		t.Errorf("fallback candidate not used: %s", caps.RuntimeReason)
	}
}

func TestProberProbedAt(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := nvenc.NewProber(nvenctest.New().Loader(), nvenc.WithClock(func() time.Time { return at }))
	if got := p.Query(context.Background()).ProbedAt; !got.Equal(at) {
		t.Errorf("ProbedAt = %v, want %v", got, at)
	}
}
