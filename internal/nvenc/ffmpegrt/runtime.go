// Package ffmpegrt implements the encoder runtime on top of an ffmpeg child
// process using the h264_nvenc and hevc_nvenc encoders. Frames are piped in
// as raw NV12, P010 or BGRA and the Annex-B output is split into access
// units on delimiter NAL units.
package ffmpegrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/smazurov/omnicapture/internal/ffmpeg"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/process"
)

// ErrNativeInterop is returned for D3D12 native interop, which a child
// process cannot share. Sessions fall back to the bridged copy path.
var ErrNativeInterop = errors.New("native D3D12 interop is not available through ffmpeg")

// Loader resolves an ffmpeg binary for a probe search location.
type Loader struct {
	logger *slog.Logger
}

// NewLoader returns a loader that logs under the nvenc module.
func NewLoader() *Loader {
	return &Loader{logger: logging.GetLogger("nvenc")}
}

// Load implements nvenc.Loader. location is a binary path or a directory;
// empty selects the configured default.
func (l *Loader) Load(_ context.Context, location string) (nvenc.Runtime, error) {
	binary, err := ffmpeg.LookBinary(ffmpeg.ResolveBinary(location))
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Encoder runtime binary resolved", "path", binary)
	return &Runtime{binary: binary, logger: l.logger}, nil
}

// Runtime is an nvenc.Runtime backed by one ffmpeg binary.
type Runtime struct {
	binary string
	logger *slog.Logger

	mu      sync.Mutex
	formats map[nvenc.Codec][]string
}

// New returns a runtime for binary without resolving it.
func New(binary string) *Runtime {
	return &Runtime{binary: binary, logger: logging.GetLogger("nvenc")}
}

// Name implements nvenc.Runtime.
func (r *Runtime) Name() string { return "ffmpeg " + r.binary }

// Binary returns the ffmpeg path.
func (r *Runtime) Binary() string { return r.binary }

// ResolveAPIs checks that the binary was built with the NVENC encoders.
func (r *Runtime) ResolveAPIs(ctx context.Context) error {
	out, err := r.output(ctx, "encoders", ffmpeg.EncodersListArgs())
	if err != nil {
		return err
	}
	if !strings.Contains(out, ffmpeg.EncoderName(false)) {
		return fmt.Errorf("%s does not provide %s", r.binary, ffmpeg.EncoderName(false))
	}
	return nil
}

// StaticCaps reads the pixel formats the encoder advertises.
func (r *Runtime) StaticCaps(ctx context.Context, codec nvenc.Codec) (nvenc.CodecCaps, error) {
	name := ffmpeg.EncoderName(codec == nvenc.CodecHEVC)
	out, err := r.output(ctx, "encoder help", ffmpeg.EncoderHelpArgs(name))
	if err != nil {
		return nvenc.CodecCaps{}, err
	}
	formats := parsePixelFormats(out)
	if len(formats) == 0 {
		return nvenc.CodecCaps{}, fmt.Errorf("encoder %s is not available", name)
	}

	r.mu.Lock()
	if r.formats == nil {
		r.formats = make(map[nvenc.Codec][]string)
	}
	r.formats[codec] = formats
	r.mu.Unlock()

	caps := nvenc.CodecCaps{
		Supports10Bit:                hasAny(formats, "p010le", "yuv420p10le"),
		SupportsBFrames:              true,
		SupportsYUV444:               hasAny(formats, "yuv444p"),
		SupportsLookahead:            true,
		SupportsAdaptiveQuantization: true,
		MaxWidth:                     4096,
		MaxHeight:                    4096,
	}
	if codec == nvenc.CodecHEVC {
		caps.MaxWidth, caps.MaxHeight = 8192, 8192
	}
	return caps, nil
}

// OpenSession implements nvenc.Runtime.
func (r *Runtime) OpenSession(_ context.Context, codec nvenc.Codec, device nvenc.Device, interop nvenc.Interop) (nvenc.RuntimeSession, error) {
	if interop == nvenc.InteropNative {
		return nil, ErrNativeInterop
	}
	gpu := 0
	if device.Kind == nvenc.DeviceCUDA {
		gpu = int(device.Handle)
	}
	return newSession(r, codec, gpu), nil
}

func (r *Runtime) supportsFormat(codec nvenc.Codec, pixfmt string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	formats, ok := r.formats[codec]
	if !ok {
		return true
	}
	return hasAny(formats, pixfmt)
}

// output runs a short ffmpeg command and returns its stdout.
func (r *Runtime) output(ctx context.Context, id string, args []string) (string, error) {
	p := r.newProcess(id, args)
	p.PipeStdout()
	if err := p.Start(ctx); err != nil {
		return "", err
	}
	data, readErr := io.ReadAll(p.Stdout())
	p.Stdout().Close()
	if _, err := p.Wait(); err != nil {
		return "", err
	}
	if readErr != nil {
		return "", readErr
	}
	return string(data), nil
}

// newProcess returns a process whose output is logged at debug level;
// failures surface through the returned errors instead.
func (r *Runtime) newProcess(id string, args []string) *process.Process {
	p := process.NewProcess(id, r.binary, args, r.logger)
	p.SetLogParser(r.logger, func(line string) (string, string) {
		_, msg := ffmpeg.ParseLogLevel(line)
		return "debug", msg
	})
	return p
}

func parsePixelFormats(help string) []string {
	const marker = "Supported pixel formats:"
	for _, line := range strings.Split(help, "\n") {
		if i := strings.Index(line, marker); i >= 0 {
			return strings.Fields(line[i+len(marker):])
		}
	}
	return nil
}

func hasAny(formats []string, want ...string) bool {
	for _, f := range formats {
		for _, w := range want {
			if f == w {
				return true
			}
		}
	}
	return false
}
