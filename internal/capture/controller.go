// Package capture sequences a capture attempt. The Controller validates the
// environment, applies the encoder fallback policy, drives the per-tick frame
// capture, rotates segments and finalizes the outputs when the capture ends.
//
// The controller is driven by a single producer calling Tick. Frames are
// handed to a ring buffer whose drain goroutine feeds the sync tracker, the
// image writer and the hardware encoder.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/smazurov/omnicapture/internal/audio"
	"github.com/smazurov/omnicapture/internal/events"
	"github.com/smazurov/omnicapture/internal/ffmpeg"
	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/muxer"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/rig"
	"github.com/smazurov/omnicapture/internal/ringbuffer"
	"github.com/smazurov/omnicapture/internal/segment"
	"github.com/smazurov/omnicapture/internal/settings"
)

// State is the controller state.
type State string

const (
	StateIdle       State = "Idle"
	StateRecording  State = "Recording"
	StatePaused     State = "Paused"
	StateFinalizing State = "Finalizing"
)

var (
	// ErrAlreadyCapturing is returned by Begin while a capture is running.
	ErrAlreadyCapturing = errors.New("capture already running")
	// ErrNotCapturing is returned by Pause, Resume and End when idle.
	ErrNotCapturing = errors.New("no capture running")
	// ErrHardwareUnavailable is returned when hardware output is required
	// but no encoder is available.
	ErrHardwareUnavailable = errors.New("NVENC required but unavailable")
)

// StepError is returned by Begin when a step aborts the capture.
type StepError struct {
	Step   string
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Reason)
}

func (e *StepError) Unwrap() error { return e.Err }

// CapabilityProber reports what the hardware encoder supports. *nvenc.Prober
// implements it.
type CapabilityProber interface {
	Query(ctx context.Context) nvenc.Capabilities
	Runtime(ctx context.Context) nvenc.Runtime
	SetRuntimeDirectoryOverride(dir string)
	SetLibraryPathOverride(path string)
}

// Options configures a Controller. Zero fields get defaults.
type Options struct {
	Prober      CapabilityProber
	Device      nvenc.Device
	Rig         rig.Rig
	Converter   func(settings.Settings) rig.Converter
	AudioSource audio.Source
	Bus         *events.Bus
	// Now is the capture clock; frame timecodes are derived from it.
	Now func() time.Time
	// DiskFree returns the free bytes of the volume holding path.
	DiskFree func(path string) (uint64, error)
	// OutputRoot resolves relative output directories.
	OutputRoot       string
	MuxerOptions     []muxer.Option
	DiagnosticsLimit int
}

// Controller runs one capture at a time.
type Controller struct {
	logger       *slog.Logger
	prober       CapabilityProber
	device       nvenc.Device
	rig          rig.Rig
	converterFor func(settings.Settings) rig.Converter
	bus          *events.Bus
	now          func() time.Time
	diskFree     func(string) (uint64, error)
	outputRoot   string
	muxerOpts    []muxer.Option

	diagnostics *logging.Ring[Diagnostic]
	recorder    *audio.Recorder

	status       atomic.Pointer[Status]
	out          atomic.Pointer[outputs]
	encoderDrops atomic.Int64
	tickInterval atomic.Int64

	sinkMu sync.RWMutex
	sinks  map[int]nvenc.PacketSink
	sinkID int

	mu            sync.Mutex
	state         State
	capturing     bool
	paused        bool
	droppedFrames bool
	attempt       int
	sessionID     string
	attemptStart  time.Time
	captureStart  time.Time
	pausedAt      time.Time
	pausedTotal   time.Duration
	settings      settings.Settings
	converter     rig.Converter
	segments      *segment.Manager
	ring          *ringbuffer.RingBuffer
	muxer         *muxer.Muxer
	encoder       *nvenc.Encoder
	imageFallback bool
	runCtx        context.Context
	cancelRun     context.CancelFunc
	checks        *rate.Sometimes

	audioEnabled bool
	audioActive  bool

	frameIndex       uint32
	framesCaptured   int
	segmentFrames    []frame.Metadata
	segmentHasImages bool
	pendingImages    imageOutput
	segmentImages    map[int]imageOutput

	tickDrops        int
	lastRingDropped  int32
	lastEncoderDrops int64
	dropsAtCheck     int
	fps              fpsSampler

	warnings      []string
	lastError     string
	lastFinalized string
}

// New returns an idle controller.
func New(opts Options) *Controller {
	c := &Controller{
		logger:       logging.GetLogger("capture"),
		prober:       opts.Prober,
		device:       opts.Device,
		rig:          opts.Rig,
		converterFor: opts.Converter,
		bus:          opts.Bus,
		now:          opts.Now,
		diskFree:     opts.DiskFree,
		outputRoot:   opts.OutputRoot,
		muxerOpts:    opts.MuxerOptions,
		sinks:        make(map[int]nvenc.PacketSink),
		state:        StateIdle,
	}
	if c.rig == nil {
		c.rig = rig.NewSynthetic()
	}
	if c.converterFor == nil {
		c.converterFor = rig.ConverterFor
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.diskFree == nil {
		c.diskFree = freeDiskBytes
	}
	limit := opts.DiagnosticsLimit
	if limit <= 0 {
		limit = DefaultDiagnosticsLimit
	}
	c.diagnostics = logging.NewRing[Diagnostic](limit)
	c.recorder = audio.NewRecorder(opts.AudioSource)
	c.tickInterval.Store(int64(time.Second / 60))

	c.mu.Lock()
	c.refreshStatusLocked()
	c.mu.Unlock()
	return c
}

// Begin starts a capture with s. It fails with ErrAlreadyCapturing while a
// capture is running and with a *StepError when a startup step fails; the
// controller is idle again in that case.
func (c *Controller) Begin(ctx context.Context, s settings.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.refreshStatusLocked()

	if c.capturing || c.state != StateIdle {
		c.recordLocked(StepBegin, LevelWarning, "Capture already running (Attempt #%d).", c.attempt)
		return ErrAlreadyCapturing
	}

	c.resetAttemptLocked()
	c.recordLocked(StepBegin, LevelInfo, "Capture request received (Attempt #%d).", c.attempt)

	if err := settings.ValidateResolution(&s); err != nil {
		return c.failLocked(StepBegin, fmt.Sprintf("Invalid capture resolution (%d).", s.Resolution), err)
	}

	settings.Normalize(&s)
	settings.ResolveOutput(&s, c.outputRoot)
	if abs, err := filepath.Abs(s.OutputDirectory); err == nil {
		s.OutputDirectory = abs
	}
	if c.prober != nil {
		c.prober.SetRuntimeDirectoryOverride(s.RuntimeDirectory)
		c.prober.SetLibraryPathOverride(s.RuntimeLibraryPath)
	}

	c.recordLocked(StepValidate, LevelInfo, "Validating capture environment.")
	c.validateEnvironmentLocked(&s)
	for _, w := range settings.ApplyCompatibilityFixups(&s) {
		c.addWarningLocked(w)
	}

	if s.OutputFormat == settings.OutputNVENC {
		caps := c.queryCapabilitiesLocked(ctx)
		adjusted, notes, err := ApplyFallbacks(s, caps)
		for _, n := range notes {
			c.addWarningLocked(n)
		}
		if err != nil {
			c.addWarningLocked(fmt.Sprintf("Capture aborted due to environment validation failure: %s", err))
			return c.failLocked(StepFallback, err.Error(), err)
		}
		s = adjusted
	}
	c.recordLocked(StepValidate, LevelInfo, "Environment validation completed.")

	c.settings = s
	c.converter = c.converterFor(s)
	c.segments = segment.NewManager(segment.ThresholdsFromLimits(s.SegmentDurationSeconds, s.SegmentFrameCount, s.SegmentSizeLimitMB))
	if err := c.segments.Configure(s.OutputDirectory, s.OutputFileName, s.CreateSegmentSubfolders, c.now()); err != nil {
		return c.failLocked(StepSegment, err.Error(), err)
	}

	if err := c.rig.Configure(s); err != nil {
		return c.failLocked(StepCreateRig, fmt.Sprintf("Capture rig could not be configured: %v", err), err)
	}

	c.runCtx, c.cancelRun = context.WithCancel(context.Background())
	c.muxer = muxer.New(c.muxerOpts...)

	c.recordLocked(StepWriters, LevelInfo, "Initializing output writers.")
	if err := c.initWritersLocked(ctx); err != nil {
		return c.failLocked(StepWriters, err.Error(), err)
	}
	c.muxer.BeginSession(s)

	policy := ringbuffer.DropOldest
	if s.RingBufferPolicy == settings.PolicyBlockProducer {
		policy = ringbuffer.BlockProducer
	}
	c.ring = ringbuffer.New(s.RingBufferCapacity, policy, c.consume)

	c.configureAudioLocked()
	c.startAudioLocked()

	rateHz := s.TargetFrameRate
	if rateHz <= 0 {
		rateHz = 60
	}
	c.tickInterval.Store(int64(float64(time.Second) / rateHz))

	now := c.now()
	c.captureStart = now
	c.fps.reset(now)
	c.capturing = true
	c.state = StateRecording

	out := s.OutputResolution()
	eye := s.PerEyeResolution()
	c.recordLocked(StepBegin, LevelInfo,
		"Attempt #%d -> Begin capture %s %s (%dx%d -> %dx%d, %s %s) (%s, %s, %s) -> %s",
		c.attempt, s.Mode, s.Projection, eye.Width, eye.Height, out.Width, out.Height,
		s.Codec, s.ColorFormat, s.OutputFormat, s.RingBufferPolicy, s.HDRPrecision, s.OutputDirectory)
	c.recordLocked(StepBegin, LevelInfo, "Capture pipeline initialized.")
	c.publishStateLocked()
	return nil
}

func (c *Controller) resetAttemptLocked() {
	c.diagnostics.Reset()
	c.attempt++
	c.sessionID = uuid.NewString()
	c.attemptStart = c.now()
	c.warnings = nil
	c.lastError = ""
	c.droppedFrames = false
	c.paused = false
	c.pausedTotal = 0
	c.imageFallback = false
	c.encoder = nil
	c.frameIndex = 0
	c.framesCaptured = 0
	c.segmentFrames = nil
	c.segmentHasImages = false
	c.pendingImages = imageOutput{}
	c.segmentImages = make(map[int]imageOutput)
	c.tickDrops = 0
	c.lastRingDropped = 0
	c.lastEncoderDrops = 0
	c.dropsAtCheck = 0
	c.encoderDrops.Store(0)
	c.fps = fpsSampler{}
	c.checks = &rate.Sometimes{First: 1, Interval: time.Second}
}

func (c *Controller) validateEnvironmentLocked(s *settings.Settings) {
	if s.MinimumFreeDiskSpaceGB > 0 {
		free, err := c.diskFree(existingAncestor(s.OutputDirectory))
		switch {
		case err != nil:
			c.addWarningLocked("Unable to query disk space for capture output")
		case free < uint64(s.MinimumFreeDiskSpaceGB)<<30:
			c.addWarningLocked(WarningLowDisk)
		}
	}
	if _, err := ffmpeg.LookBinary(ffmpeg.ResolveBinary(s.PreferredFFmpegPath)); err != nil {
		c.addWarningLocked("FFmpeg not detected - automatic muxing disabled")
	}
}

func (c *Controller) queryCapabilitiesLocked(ctx context.Context) nvenc.Capabilities {
	if c.prober == nil {
		return nvenc.Capabilities{HardwareReason: "No capability prober is configured."}
	}
	caps := c.prober.Query(ctx)
	c.logger.Info("Encoder capabilities", "summary", caps.Summary())
	c.bus.Publish(events.CapabilitiesProbedEvent{
		HardwareAvailable: caps.HardwareAvailable,
		Summary:           caps.Summary(),
		Timestamp:         c.now().Format(time.RFC3339),
	})
	return caps
}

// failLocked aborts the attempt at step, releases what Begin set up and
// returns the error Begin reports.
func (c *Controller) failLocked(step, reason string, err error) error {
	c.recordLocked(step, LevelError, "%s", reason)
	duration := c.now().Sub(c.attemptStart).Seconds()
	summary := fmt.Sprintf("Capture attempt #%d failed after %.2fs at step '%s'. Reason: %s",
		c.attempt, duration, step, reason)
	c.recordLocked(fmt.Sprintf("Attempt %d Summary", c.attempt), LevelError, "%s", summary)
	c.lastError = reason

	c.teardownLocked(context.Background())
	c.bus.Publish(events.CaptureFailedEvent{
		AttemptID:       c.attempt,
		SessionID:       c.sessionID,
		Step:            step,
		Reason:          reason,
		DurationSeconds: duration,
		Summary:         summary,
		Timestamp:       c.now().Format(time.RFC3339),
	})
	c.publishStateLocked()
	return &StepError{Step: step, Reason: reason, Err: err}
}

// teardownLocked releases every pipeline resource without finalizing and
// returns the controller to Idle.
func (c *Controller) teardownLocked(ctx context.Context) {
	c.stopAudioLocked()
	if c.ring != nil {
		c.ring.Shutdown()
	}
	c.shutdownWritersLocked(ctx)
	if c.muxer != nil {
		c.muxer.EndSession()
	}
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.ring = nil
	c.muxer = nil
	c.encoder = nil
	c.cancelRun = nil
	c.capturing = false
	c.paused = false
	c.state = StateIdle
}

// Tick captures one frame. It does nothing unless a capture is recording.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.capturing || c.paused {
		return
	}

	if c.segments.ShouldRotate(c.now(), len(c.segmentFrames), c.segmentBytesLocked) {
		c.rotateLocked(ctx)
	}
	c.captureFrameLocked(ctx)

	c.checks.Do(func() {
		c.evaluateWarningsLocked()
		c.publishStatsLocked()
	})
	c.refreshStatusLocked()
}

// Run calls Tick at the target frame rate of the running capture until ctx
// is done.
func (c *Controller) Run(ctx context.Context) {
	timer := time.NewTimer(time.Duration(c.tickInterval.Load()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.Tick(ctx)
			timer.Reset(time.Duration(c.tickInterval.Load()))
		}
	}
}

func (c *Controller) timecodeLocked(now time.Time) float64 {
	return (now.Sub(c.captureStart) - c.pausedTotal).Seconds()
}

func (c *Controller) captureFrameLocked(ctx context.Context) {
	now := c.now()
	t := c.timecodeLocked(now)

	eyes, err := c.rig.Capture(ctx, t)
	if err != nil {
		c.dropFrameLocked("rig capture failed: %v", err)
		return
	}
	conv, err := c.converter.Convert(ctx, c.settings, eyes)
	if err != nil {
		c.dropFrameLocked("%s conversion failed: %v", c.converter.Name(), err)
		return
	}

	out := c.out.Load()
	if out == nil {
		conv.Release()
		c.dropFrameLocked("no output writer is active")
		return
	}
	if out.encoder != nil && len(conv.EncoderPlanes) == 0 && conv.Texture == nil {
		conv.Release()
		c.dropFrameLocked("hardware output requires encoder input but the converter produced none")
		return
	}

	idx := c.frameIndex
	c.frameIndex++
	f := &frame.CapturedFrame{
		Metadata: frame.Metadata{
			FrameIndex: idx,
			Timecode:   t,
			KeyFrame:   idx%uint32(max(1, c.settings.Quality.GOPLength)) == 0,
		},
		Pixels:          conv.Pixels,
		Texture:         conv.Texture,
		ReadyFence:      conv.ReadyFence,
		EncoderPlanes:   conv.EncoderPlanes,
		AuxiliaryLayers: eyes.Layers,
		Linear:          conv.Linear,
		UsedCPUFallback: conv.UsedCPUFallback,
	}
	if c.audioActive {
		f.AudioPackets = c.recorder.Gather(t)
	}

	c.segmentFrames = append(c.segmentFrames, f.Metadata)
	if out.images != nil {
		c.segmentHasImages = true
	}
	c.framesCaptured++
	c.fps.observe(now)

	c.ring.Enqueue(f)

	stats := c.ring.Stats()
	if stats.Dropped > c.lastRingDropped {
		c.lastRingDropped = stats.Dropped
		c.markDroppedLocked()
	}
	if drops := c.encoderDrops.Load(); drops > c.lastEncoderDrops {
		c.lastEncoderDrops = drops
		c.markDroppedLocked()
	}
}

func (c *Controller) dropFrameLocked(format string, args ...any) {
	c.tickDrops++
	c.recordLocked(StepCaptureLoop, LevelWarning, "OmniCapture frame dropped: "+format, args...)
	c.markDroppedLocked()
}

func (c *Controller) markDroppedLocked() {
	if !c.droppedFrames {
		c.droppedFrames = true
		c.publishStateLocked()
	}
	c.addWarningLocked(WarningFrameDrop)
}

func (c *Controller) totalDroppedLocked() int {
	total := c.tickDrops + int(c.encoderDrops.Load())
	if c.ring != nil {
		total += int(c.ring.Stats().Dropped)
	}
	return total
}

func (c *Controller) evaluateWarningsLocked() {
	s := &c.settings

	if s.MinimumFreeDiskSpaceGB > 0 {
		if free, err := c.diskFree(existingAncestor(s.OutputDirectory)); err == nil {
			if free < uint64(s.MinimumFreeDiskSpaceGB)<<30 {
				c.addWarningLocked(WarningLowDisk)
			} else {
				c.clearWarningLocked(WarningLowDisk)
			}
		}
	}

	if fps := c.fps.value; fps > 0 && s.TargetFrameRate > 0 {
		ratio := min(max(s.LowFrameRateWarningRatio, 0.1), 1)
		if fps < s.TargetFrameRate*ratio {
			c.addWarningLocked(WarningLowFPS)
		} else {
			c.clearWarningLocked(WarningLowFPS)
		}
	}

	dropped := c.totalDroppedLocked()
	if dropped == c.dropsAtCheck {
		c.clearWarningLocked(WarningFrameDrop)
	}
	c.dropsAtCheck = dropped

	if c.muxer.SyncStats().InError {
		c.addWarningLocked(WarningAudioDrift)
	} else {
		c.clearWarningLocked(WarningAudioDrift)
	}
}

func (c *Controller) publishStatsLocked() {
	st := c.buildStatusLocked()
	c.bus.Publish(events.CaptureStatsEvent{
		AttemptID:      c.attempt,
		Frames:         st.Frames,
		DroppedFrames:  st.Dropped,
		Pending:        st.Pending,
		Blocked:        st.Blocked,
		FPS:            st.FPS,
		Segment:        st.Segment,
		AudioDriftMs:   st.Audio.DriftMs,
		AudioSyncError: st.Audio.InError,
		EncodedBytes:   st.EncodedBytes,
		Timestamp:      c.now().Format(time.RFC3339),
	})
}

// Pause stops capturing frames and audio until Resume.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.refreshStatusLocked()

	if !c.capturing {
		return ErrNotCapturing
	}
	if c.paused {
		return nil
	}
	c.ring.Flush()
	c.recorder.SetPaused(true)
	c.muxer.EndSession()
	c.paused = true
	c.pausedAt = c.now()
	c.state = StatePaused
	c.recordLocked(StepCaptureLoop, LevelInfo, "Capture paused.")
	c.publishStateLocked()
	return nil
}

// Resume continues a paused capture. Paused time is excluded from frame
// timecodes.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.refreshStatusLocked()

	if !c.capturing {
		return ErrNotCapturing
	}
	if !c.paused {
		return nil
	}
	now := c.now()
	c.pausedTotal += now.Sub(c.pausedAt)
	c.recorder.SetPaused(false)
	c.muxer.BeginSession(c.settings)
	c.fps.reset(now)
	c.paused = false
	c.state = StateRecording
	c.recordLocked(StepCaptureLoop, LevelInfo, "Capture resumed.")
	c.publishStateLocked()
	return nil
}

// End stops the capture. With finalize set every recorded segment gets its
// manifest, metadata sidecars and muxed output; otherwise the files written
// so far are left as they are.
func (c *Controller) End(ctx context.Context, finalize bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.refreshStatusLocked()

	if !c.capturing {
		return ErrNotCapturing
	}

	flag := 0
	if finalize {
		flag = 1
	}
	c.recordLocked(StepEnd, LevelInfo, "Attempt #%d -> End capture (Finalize=%d)", c.attempt, flag)
	c.state = StateFinalizing
	c.publishStateLocked()
	c.refreshStatusLocked()

	audioPath := c.stopAudioLocked()
	c.ring.Shutdown()
	videoPath := c.shutdownWritersLocked(ctx)
	c.muxer.EndSession()
	c.completeSegmentLocked(audioPath, videoPath)

	records := c.segments.Records()
	detail := "Finalization skipped by request."
	var output string
	if finalize {
		detail, output = c.finalizeOutputsLocked(ctx, records)
	}
	c.recordCompletionLocked(finalize, records, detail, output)

	c.teardownLocked(ctx)
	c.recordLocked(StepIdle, LevelInfo, "Capture session ended.")
	c.publishStateLocked()
	return nil
}

func (c *Controller) recordCompletionLocked(finalized bool, records []segment.Record, detail, output string) {
	duration := c.now().Sub(c.attemptStart).Seconds()
	frames := 0
	for _, r := range records {
		frames += len(r.Frames)
	}
	dropped := c.totalDroppedLocked()

	outcome := "completed"
	if !finalized {
		outcome = "stopped without finalization"
	}
	summary := fmt.Sprintf("Capture attempt #%d %s after %.2fs. Frames captured: %d. Dropped frames: %d. %s",
		c.attempt, outcome, duration, frames, dropped, detail)
	c.recordLocked(fmt.Sprintf("Attempt %d Summary", c.attempt), LevelInfo, "%s", summary)

	c.bus.Publish(events.CaptureCompletedEvent{
		AttemptID:       c.attempt,
		SessionID:       c.sessionID,
		Finalized:       finalized,
		Frames:          frames,
		DroppedFrames:   dropped,
		Segments:        len(records),
		DurationSeconds: duration,
		Output:          output,
		OutputFormat:    string(c.settings.OutputFormat),
		Codec:           string(c.settings.Codec),
		Summary:         summary,
		Warnings:        append([]string(nil), c.warnings...),
		Timestamp:       c.now().Format(time.RFC3339),
	})
}

func (c *Controller) publishStateLocked() {
	c.bus.Publish(events.CaptureStateChangedEvent{
		AttemptID:     c.attempt,
		SessionID:     c.sessionID,
		State:         string(c.state),
		DroppedFrames: c.droppedFrames,
		Timestamp:     c.now().Format(time.RFC3339),
	})
}

// AddPacketSink registers fn for every packet the hardware encoder writes,
// across segments and captures. The returned function removes it.
func (c *Controller) AddPacketSink(fn nvenc.PacketSink) func() {
	c.sinkMu.Lock()
	id := c.sinkID
	c.sinkID++
	c.sinks[id] = fn
	c.sinkMu.Unlock()
	return func() {
		c.sinkMu.Lock()
		delete(c.sinks, id)
		c.sinkMu.Unlock()
	}
}

func (c *Controller) fanOut(codec nvenc.Codec, p nvenc.Packet) {
	c.sinkMu.RLock()
	defer c.sinkMu.RUnlock()
	for _, sink := range c.sinks {
		sink(codec, p)
	}
}

// RequestKeyframe asks the active encoder for a key frame.
func (c *Controller) RequestKeyframe() {
	if out := c.out.Load(); out != nil && out.encoder != nil {
		out.encoder.RequestKeyframe()
	}
}

// SequenceHeader returns the codec configuration of the active encoder, or
// nil when no hardware output is open.
func (c *Controller) SequenceHeader() []byte {
	if out := c.out.Load(); out != nil && out.encoder != nil {
		return out.encoder.SequenceHeader()
	}
	return nil
}

// Settings returns the effective settings of the current or last capture.
func (c *Controller) Settings() settings.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

type fpsSampler struct {
	start  time.Time
	frames int
	value  float64
}

func (f *fpsSampler) reset(now time.Time) {
	f.start = now
	f.frames = 0
}

func (f *fpsSampler) observe(now time.Time) {
	f.frames++
	if elapsed := now.Sub(f.start); elapsed >= time.Second {
		f.value = float64(f.frames) / elapsed.Seconds()
		f.start = now
		f.frames = 0
	}
}

// existingAncestor returns path or its nearest parent that exists, so free
// space can be queried before the output directory is created.
func existingAncestor(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
