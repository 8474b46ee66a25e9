package nvenc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
)

const (
	// DefaultStepTimeout bounds each probe step.
	DefaultStepTimeout = 2500 * time.Millisecond

	probeWidth  = 256
	probeHeight = 144
)

// Capabilities is the result of a hardware probe. Every failed check carries
// a human readable reason.
type Capabilities struct {
	RuntimeLoaded     bool `json:"runtimeLoaded" toml:"runtime_loaded"`
	APIsReady         bool `json:"apisReady" toml:"apis_ready"`
	SessionOpenable   bool `json:"sessionOpenable" toml:"session_openable"`
	SupportsH264      bool `json:"supportsH264" toml:"supports_h264"`
	SupportsHEVC      bool `json:"supportsHEVC" toml:"supports_hevc"`
	SupportsNV12      bool `json:"supportsNV12" toml:"supports_nv12"`
	SupportsP010      bool `json:"supportsP010" toml:"supports_p010"`
	SupportsBGRA      bool `json:"supportsBGRA" toml:"supports_bgra"`
	Supports10Bit     bool `json:"supports10Bit" toml:"supports_10bit"`
	SupportsZeroCopy  bool `json:"supportsZeroCopy" toml:"supports_zero_copy"`
	HardwareAvailable bool `json:"hardwareAvailable" toml:"hardware_available"`

	RuntimeReason  string `json:"runtimeReason,omitempty" toml:"runtime_reason,omitempty"`
	APIsReason     string `json:"apisReason,omitempty" toml:"apis_reason,omitempty"`
	SessionReason  string `json:"sessionReason,omitempty" toml:"session_reason,omitempty"`
	H264Reason     string `json:"h264Reason,omitempty" toml:"h264_reason,omitempty"`
	HEVCReason     string `json:"hevcReason,omitempty" toml:"hevc_reason,omitempty"`
	NV12Reason     string `json:"nv12Reason,omitempty" toml:"nv12_reason,omitempty"`
	P010Reason     string `json:"p010Reason,omitempty" toml:"p010_reason,omitempty"`
	BGRAReason     string `json:"bgraReason,omitempty" toml:"bgra_reason,omitempty"`
	ZeroCopyReason string `json:"zeroCopyReason,omitempty" toml:"zero_copy_reason,omitempty"`
	HardwareReason string `json:"hardwareReason,omitempty" toml:"hardware_reason,omitempty"`

	RuntimeName string    `json:"runtimeName,omitempty" toml:"runtime_name,omitempty"`
	RuntimePath string    `json:"runtimePath,omitempty" toml:"runtime_path,omitempty"`
	H264Caps    CodecCaps `json:"h264Caps" toml:"h264_caps"`
	HEVCCaps    CodecCaps `json:"hevcCaps" toml:"hevc_caps"`
	ProbedAt    time.Time `json:"probedAt" toml:"probed_at"`
}

// Summary is a one line description for logs and the CLI.
func (c Capabilities) Summary() string {
	if !c.HardwareAvailable {
		return "NVENC unavailable: " + c.HardwareReason
	}
	yn := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprintf("HEVC:%s NV12:%s P010:%s BGRA:%s 10bit:%s",
		yn(c.SupportsHEVC), yn(c.SupportsNV12), yn(c.SupportsP010), yn(c.SupportsBGRA), yn(c.Supports10Bit))
}

// DebugString formats static codec capabilities.
func (c CodecCaps) DebugString() string {
	yn := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprintf("10bit=%s BFrames=%s YUV444=%s Lookahead=%s AQ=%s MaxResolution=%dx%d",
		yn(c.Supports10Bit), yn(c.SupportsBFrames), yn(c.SupportsYUV444),
		yn(c.SupportsLookahead), yn(c.SupportsAdaptiveQuantization), c.MaxWidth, c.MaxHeight)
}

// Prober runs the hardware probe and caches its result until invalidated.
type Prober struct {
	loader      Loader
	bundledDir  string
	stepTimeout time.Duration
	device      Device
	now         func() time.Time
	logger      *slog.Logger

	mu          sync.Mutex
	libraryPath string
	directory   string
	cached      *Capabilities
	runtime     Runtime
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithBundledDirectory sets the directory searched after explicit overrides.
func WithBundledDirectory(dir string) ProberOption {
	return func(p *Prober) { p.bundledDir = dir }
}

// WithStepTimeout bounds each probe step.
func WithStepTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.stepTimeout = d }
}

// WithProbeDevice sets the device probe sessions are opened on.
func WithProbeDevice(d Device) ProberOption {
	return func(p *Prober) { p.device = d }
}

// WithClock replaces time.Now for ProbedAt.
func WithClock(now func() time.Time) ProberOption {
	return func(p *Prober) { p.now = now }
}

// NewProber creates a prober that loads runtimes through loader.
func NewProber(loader Loader, opts ...ProberOption) *Prober {
	p := &Prober{
		loader:      loader,
		stepTimeout: DefaultStepTimeout,
		now:         time.Now,
		logger:      logging.GetLogger("nvenc"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetRuntimeDirectoryOverride changes the explicit search directory.
func (p *Prober) SetRuntimeDirectoryOverride(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.directory != dir {
		p.directory = dir
		p.invalidateLocked()
	}
}

// SetLibraryPathOverride changes the explicit runtime path.
func (p *Prober) SetLibraryPathOverride(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.libraryPath != path {
		p.libraryPath = path
		p.invalidateLocked()
	}
}

// Invalidate drops the cached result.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidateLocked()
}

func (p *Prober) invalidateLocked() {
	p.cached = nil
	p.runtime = nil
}

// Cached returns the cached result without probing.
func (p *Prober) Cached() (Capabilities, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		return Capabilities{}, false
	}
	return *p.cached, true
}

// Runtime returns the runtime loaded by the last probe, probing first when
// nothing is cached. It is nil when loading failed.
func (p *Prober) Runtime(ctx context.Context) Runtime {
	p.Query(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runtime
}

// Query returns the cached capabilities, probing on first use.
func (p *Prober) Query(ctx context.Context) Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return *p.cached
	}

	caps, rt := p.probe(ctx, SearchPath{
		LibraryPath:      p.libraryPath,
		Directory:        p.directory,
		BundledDirectory: p.bundledDir,
	})
	p.cached = &caps
	p.runtime = rt
	return caps
}

// step runs fn under the per-step deadline. A runtime that ignores ctx still
// releases the probe when the deadline passes.
func (p *Prober) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s timed out after %s: %w", name, p.stepTimeout, ctx.Err())
	}
}

func (p *Prober) probe(ctx context.Context, search SearchPath) (Capabilities, Runtime) {
	caps := Capabilities{ProbedAt: p.now()}

	p.logger.Info("Encoder probe starting",
		"library_override", orNone(search.LibraryPath),
		"directory_override", orNone(search.Directory),
		"bundled", orNone(search.BundledDirectory))

	// 1. Runtime.
	var rt Runtime
	var loadErrs []string
	for _, candidate := range search.Candidates() {
		var loaded Runtime
		err := p.step(ctx, "runtime load", func(ctx context.Context) error {
			var err error
			loaded, err = p.loader.Load(ctx, candidate)
			return err
		})
		if err == nil && loaded != nil {
			rt = loaded
			caps.RuntimePath = candidate
			break
		}
		if err == nil {
			err = errors.New("loader returned no runtime")
		}
		loadErrs = append(loadErrs, fmt.Sprintf("%s: %v", orNone(candidate), err))
	}
	if rt == nil {
		caps.RuntimeReason = "Unable to load encoder runtime (" + strings.Join(loadErrs, "; ") + ")"
		caps.HardwareReason = caps.RuntimeReason
		p.logger.Warn("Encoder probe failed to load runtime", "reason", caps.RuntimeReason)
		return caps, nil
	}
	caps.RuntimeLoaded = true
	caps.RuntimeName = rt.Name()
	if caps.RuntimePath == "" {
		caps.RuntimePath = "<system>"
	}

	// 2. Entry points.
	if err := p.step(ctx, "api resolution", rt.ResolveAPIs); err != nil {
		caps.APIsReason = "APIs not ready: " + err.Error()
		caps.HardwareReason = caps.APIsReason
		p.logger.Warn("Encoder probe failed to resolve APIs", "reason", caps.APIsReason)
		return caps, rt
	}
	caps.APIsReady = true

	// 3. Static capabilities.
	hevcStatic := true
	for _, codec := range []Codec{CodecH264, CodecHEVC} {
		var cc CodecCaps
		err := p.step(ctx, codec.String()+" caps", func(ctx context.Context) error {
			var err error
			cc, err = rt.StaticCaps(ctx, codec)
			return err
		})
		if err != nil {
			if codec == CodecHEVC {
				hevcStatic = false
				caps.HEVCReason = "Encoder runtime reported HEVC as unavailable: " + err.Error()
			} else {
				caps.H264Reason = "Encoder runtime reported H.264 as unavailable: " + err.Error()
			}
			continue
		}
		if codec == CodecH264 {
			caps.H264Caps = cc
		} else {
			caps.HEVCCaps = cc
		}
		p.logger.Debug("Encoder static capabilities", "codec", codec, "caps", cc.DebugString())
	}

	// 4. Baseline session.
	if err := p.probeSession(ctx, rt, CodecH264, frame.FormatNV12); err != nil {
		caps.SessionReason = err.Error()
		if caps.H264Reason == "" {
			caps.H264Reason = caps.SessionReason
		}
		caps.NV12Reason = caps.SessionReason
		caps.HardwareReason = caps.SessionReason
		p.logger.Warn("Encoder probe could not open a session", "reason", caps.SessionReason)
		return caps, rt
	}
	caps.SessionOpenable = true
	caps.SupportsH264 = true
	caps.SupportsNV12 = true
	caps.H264Reason = ""
	caps.HardwareAvailable = true

	// 5. Optional combinations, each independent of the others.
	if err := p.probeSession(ctx, rt, CodecH264, frame.FormatBGRA); err != nil {
		caps.BGRAReason = err.Error()
	} else {
		caps.SupportsBGRA = true
	}

	if !hevcStatic {
		caps.P010Reason = caps.HEVCReason
	} else {
		if err := p.probeSession(ctx, rt, CodecHEVC, frame.FormatNV12); err != nil {
			caps.HEVCReason = err.Error()
		} else {
			caps.SupportsHEVC = true
		}
		if err := p.probeSession(ctx, rt, CodecHEVC, frame.FormatP010); err != nil {
			caps.P010Reason = err.Error()
		} else {
			caps.SupportsP010 = true
		}
	}
	caps.Supports10Bit = caps.HEVCCaps.Supports10Bit && caps.SupportsP010

	if p.device.Kind == DeviceCPU {
		caps.ZeroCopyReason = "Zero-copy requires a GPU device; frames are uploaded from system memory."
	} else {
		caps.SupportsZeroCopy = true
	}

	p.logger.Info("Encoder probe completed", "runtime", caps.RuntimeName, "summary", caps.Summary())
	return caps, rt
}

// probeSession opens, initializes and destroys a minimal session through the
// same Session path captures use.
func (p *Prober) probeSession(ctx context.Context, rt Runtime, codec Codec, format frame.PixelFormat) error {
	return p.step(ctx, fmt.Sprintf("%s/%s session", codec, format), func(ctx context.Context) error {
		s := NewSession(rt)
		defer s.Destroy()

		if err := s.Open(ctx, codec, p.device); err != nil {
			return err
		}
		if err := s.ValidatePreset(codec); err != nil {
			return err
		}
		return s.Initialize(ctx, Parameters{
			Codec:         codec,
			Format:        format,
			Width:         probeWidth,
			Height:        probeHeight,
			FrameRate:     30,
			TargetBitrate: 1_000_000,
			MaxBitrate:    1_000_000,
			GOPLength:     30,
			RateControl:   RateControlCBR,
			QPMax:         51,
		})
	})
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
