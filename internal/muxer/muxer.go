// Package muxer tracks audio/video sync during a capture and, at the end of
// each segment, writes the metadata sidecars and muxes the output into an
// MP4 with ffmpeg.
package muxer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/smazurov/omnicapture/internal/audiosync"
	"github.com/smazurov/omnicapture/internal/ffmpeg"
	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/process"
	"github.com/smazurov/omnicapture/internal/settings"
)

var (
	// ErrNoFrames is returned by Finalize for an empty segment.
	ErrNoFrames = errors.New("no frames captured")
	// ErrBitstreamMissing is returned when the encoder output does not exist.
	ErrBitstreamMissing = errors.New("bitstream not found")
)

// Runner executes ffmpeg with args in dir.
type Runner func(ctx context.Context, binary string, args []string, dir string) error

// Input is what the pipeline knows about a finished segment.
type Input struct {
	Frames          []frame.Metadata
	AudioPath       string
	VideoPath       string // Annex-B bitstream for hardware output
	ImagePattern    string // printf pattern of the image sequence
	DroppedFrames   int
	AuxiliaryLayers []string
}

// Result lists the files Finalize produced.
type Result struct {
	ManifestPath string `json:"manifestPath,omitempty"`
	SpatialPath  string `json:"spatialPath,omitempty"`
	XMPPath      string `json:"xmpPath,omitempty"`
	OutputPath   string `json:"outputPath,omitempty"`
	Muxed        bool   `json:"muxed"`
}

// Option configures a Muxer.
type Option func(*Muxer)

// WithRunner replaces the process based ffmpeg runner.
func WithRunner(r Runner) Option {
	return func(m *Muxer) { m.run = r }
}

// Muxer owns the sync tracker of the running capture and finalizes segments.
type Muxer struct {
	logger  *slog.Logger
	tracker *audiosync.Tracker
	run     Runner

	dir    string
	base   string
	binary string
}

// New returns a muxer with an inactive sync tracker.
func New(opts ...Option) *Muxer {
	m := &Muxer{
		logger:  logging.GetLogger("muxer"),
		tracker: audiosync.NewTracker(true),
	}
	m.run = m.runProcess
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize targets dir/base and resolves the ffmpeg binary.
func (m *Muxer) Initialize(s settings.Settings, dir string) error {
	if dir == "" {
		dir = settings.DefaultOutputDirectory
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	m.dir = dir
	m.base = s.OutputFileName
	if m.base == "" {
		m.base = settings.DefaultBaseName
	}
	m.binary = ffmpeg.ResolveBinary(s.PreferredFFmpegPath)
	m.tracker.SetConstantFrameRate(s.ForceConstantFrameRate)
	return nil
}

// Binary returns the resolved ffmpeg path.
func (m *Muxer) Binary() string { return m.binary }

// OutputPath returns the MP4 path of the current segment.
func (m *Muxer) OutputPath() string { return filepath.Join(m.dir, m.base+".mp4") }

// BeginSession starts drift tracking with the threshold for s.
func (m *Muxer) BeginSession(s settings.Settings) {
	m.tracker.SetConstantFrameRate(s.ForceConstantFrameRate)
	m.tracker.Begin()
}

// EndSession stops drift tracking and clears its stats.
func (m *Muxer) EndSession() { m.tracker.End() }

// PushFrame feeds a frame's timecode and audio to the sync tracker.
func (m *Muxer) PushFrame(f *frame.CapturedFrame) {
	if f == nil {
		return
	}
	m.tracker.PushFrame(f.Metadata.Timecode, f.AudioPackets)
}

// SyncStats returns the tracker snapshot.
func (m *Muxer) SyncStats() audiosync.Stats { return m.tracker.Stats() }

// Finalize writes the manifest and VR sidecars, then muxes the segment.
// Every step runs even if an earlier one failed; the errors are joined.
func (m *Muxer) Finalize(ctx context.Context, s settings.Settings, in Input) (Result, error) {
	var res Result
	var errs []error

	if s.GenerateManifest {
		path := filepath.Join(m.dir, m.base+"_Manifest.json")
		if err := writeJSON(path, BuildManifest(s, m.dir, m.base, in)); err != nil {
			m.logger.Warn("Failed to write OmniCapture manifest", "base", m.base, "error", err)
			errs = append(errs, err)
		} else {
			res.ManifestPath = path
			m.logger.Info("OmniCapture manifest written", "path", path)
		}
	}

	if err := m.writeSpatial(s, &res); err != nil {
		m.logger.Warn("Failed to write VR spatial metadata sidecars", "base", m.base, "error", err)
		errs = append(errs, err)
	}

	if err := m.mux(ctx, s, in, &res); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (m *Muxer) writeSpatial(s settings.Settings, res *Result) error {
	if !s.WriteSpatialMetadata && !s.WriteXMPMetadata {
		return nil
	}
	if !s.SupportsSphericalMetadata() {
		return nil
	}
	if out := s.OutputResolution(); out.Width <= 0 || out.Height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", out.Width, out.Height)
	}

	var errs []error
	if s.WriteSpatialMetadata {
		path := filepath.Join(m.dir, m.base+"_SpatialMetadata.json")
		if err := writeJSON(path, BuildSpatial(s)); err != nil {
			errs = append(errs, err)
		} else {
			res.SpatialPath = path
		}
	}
	if s.WriteXMPMetadata {
		path := filepath.Join(m.dir, m.base+"_VRMetadata.xmp")
		if err := os.WriteFile(path, []byte(BuildXMP(s)), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", path, err))
		} else {
			res.XMPPath = path
		}
	}
	return errors.Join(errs...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (m *Muxer) mux(ctx context.Context, s settings.Settings, in Input, res *Result) error {
	if len(in.Frames) == 0 {
		m.logger.Warn("No frames captured; skipping FFmpeg mux.")
		return ErrNoFrames
	}

	binary, err := ffmpeg.LookBinary(m.binary)
	if err != nil {
		m.logger.Warn(fmt.Sprintf("FFmpeg binary %s was not found on disk.", m.binary))
		if s.IsImageSequence() {
			return nil
		}
		return err
	}

	p := ffmpeg.MuxParams{
		FrameRate:              FrameRate(in.Frames),
		HEVC:                   s.Codec == settings.CodecHEVC,
		Color:                  ffmpeg.ColorSpace(s.ColorSpace),
		ForceConstantFrameRate: s.ForceConstantFrameRate,
		FastStart:              s.EnableFastStart,
		Output:                 m.OutputPath(),
	}
	if s.IsImageSequence() {
		p.ImageSequence = true
		p.Input = in.ImagePattern
		if p.Input == "" {
			p.Input = filepath.Join(m.dir, m.base+"_%06d"+s.ImageFileExtension())
		}
	} else {
		p.Input = in.VideoPath
		if p.Input == "" {
			p.Input = filepath.Join(m.dir, m.base+".h264")
		}
		if !fileExists(p.Input) {
			m.logger.Warn(fmt.Sprintf("NVENC bitstream %s not found; skipping FFmpeg mux.", p.Input))
			return fmt.Errorf("%w: %s", ErrBitstreamMissing, p.Input)
		}
	}

	if in.AudioPath != "" {
		if fileExists(in.AudioPath) {
			p.AudioPath = in.AudioPath
		} else {
			m.logger.Warn(fmt.Sprintf("Audio file %s was not found; muxed output will be silent.", in.AudioPath))
		}
	}

	if s.InjectFFmpegMetadata && s.SupportsSphericalMetadata() {
		pano := s.PanoGeometry()
		p.Spherical = &ffmpeg.SphericalTags{
			StereoMode:    s.StereoModeTag(),
			HalfSphere:    s.IsVR180(),
			FullWidth:     pano.FullWidth,
			FullHeight:    pano.FullHeight,
			CroppedWidth:  pano.CroppedWidth,
			CroppedHeight: pano.CroppedHeight,
			CroppedLeft:   pano.CroppedLeft,
			CroppedTop:    pano.CroppedTop,
			HorizontalFOV: s.HorizontalFOVDegrees(),
			VerticalFOV:   s.VerticalFOVDegrees(),
		}
	}

	args := ffmpeg.MuxArgs(p)
	m.logger.Info("Invoking FFmpeg", "binary", binary, "args", args)
	if err := m.run(ctx, binary, args, m.dir); err != nil {
		m.logger.Warn("FFmpeg mux failed", "error", err)
		return fmt.Errorf("mux %s: %w", p.Output, err)
	}
	res.OutputPath = p.Output
	res.Muxed = true
	m.logger.Info("FFmpeg muxing complete", "path", p.Output)
	return nil
}

func (m *Muxer) runProcess(ctx context.Context, binary string, args []string, dir string) error {
	p := process.NewProcess("mux-"+m.base, binary, args, m.logger)
	p.SetLogParser(m.logger, ffmpeg.ParseLogLevel)
	p.SetDir(dir)
	code, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("ffmpeg returned non-zero exit code %d", code)
	}
	return nil
}
