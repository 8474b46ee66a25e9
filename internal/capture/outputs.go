package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/omnicapture/internal/events"
	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/imagewriter"
	"github.com/smazurov/omnicapture/internal/muxer"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/segment"
	"github.com/smazurov/omnicapture/internal/settings"
)

// outputs are the writers of the active segment. The drain goroutine reads
// them without holding the controller lock.
type outputs struct {
	ctx     context.Context
	muxer   *muxer.Muxer
	images  *imagewriter.Writer
	encoder *nvenc.Encoder
}

// imageOutput remembers what the image writer produced for a segment.
type imageOutput struct {
	pattern string
	layers  []string
}

// consume is the ring buffer consumer: sync tracker, image writer, encoder.
func (c *Controller) consume(f *frame.CapturedFrame) {
	defer f.Release()

	out := c.out.Load()
	if out == nil {
		return
	}
	out.muxer.PushFrame(f)

	if out.images != nil {
		if err := out.images.Enqueue(out.ctx, f); err != nil {
			c.logger.Warn("Image sequence write could not be scheduled",
				"frame", f.Metadata.FrameIndex, "error", err)
		}
	}
	if out.encoder != nil {
		if err := out.encoder.EnqueueFrame(out.ctx, f); err != nil {
			c.encoderDrops.Add(1)
			c.logger.Warn("Encoder rejected frame",
				"frame", f.Metadata.FrameIndex, "error", err, "reason", out.encoder.LastError())
		}
	}
}

// segmentSettingsLocked returns the settings with the active segment base name.
func (c *Controller) segmentSettingsLocked() settings.Settings {
	s := c.settings
	s.OutputFileName = c.segments.BaseName()
	return s
}

// initWritersLocked opens the writers for the active segment.
func (c *Controller) initWritersLocked(ctx context.Context) error {
	dir := c.segments.Directory()
	s := c.segmentSettingsLocked()
	out := &outputs{ctx: c.runCtx, muxer: c.muxer}

	if err := c.muxer.Initialize(s, dir); err != nil {
		return fmt.Errorf("initialize muxer: %w", err)
	}

	if s.OutputFormat == settings.OutputNVENC && !c.imageFallback {
		if c.encoder == nil {
			var rt nvenc.Runtime
			if c.prober != nil {
				rt = c.prober.Runtime(ctx)
			}
			c.encoder = nvenc.NewEncoder(rt, nvenc.WithDevice(c.device))
			c.encoder.AddPacketSink(c.fanOut)
		}
		err := c.encoder.Initialize(ctx, s, s.OutputResolution(), dir, s.OutputFileName)
		if err == nil {
			out.encoder = c.encoder
			c.recordLocked(StepWriters, LevelInfo, "NVENC output will be written to %s", c.encoder.OutputPath())
			c.out.Store(out)
			return nil
		}
		if !s.AllowNVENCFallback {
			c.recordLocked(StepWriters, LevelError, "NVENC encoder failed to initialize.")
			return err
		}
		c.recordLocked(StepWriters, LevelWarning, "NVENC encoder failed to initialize.")
		c.addWarningLocked(fmt.Sprintf("Falling back to PNG sequence because NVENC is unavailable: %s", err))
		c.imageFallback = true
	}

	w := imagewriter.New()
	if err := w.Initialize(s, dir); err != nil {
		return fmt.Errorf("initialize image writer: %w", err)
	}
	out.images = w
	if c.imageFallback {
		c.recordLocked(StepWriters, LevelInfo, "Image sequence writer initialized for NVENC fallback.")
	} else {
		c.recordLocked(StepWriters, LevelInfo, "Image sequence writer initialized.")
	}
	c.out.Store(out)
	return nil
}

// shutdownWritersLocked detaches the active writers, waits for pending
// image writes and closes the bitstream. It returns the bitstream path.
func (c *Controller) shutdownWritersLocked(ctx context.Context) string {
	out := c.out.Swap(nil)
	if out == nil {
		return ""
	}
	if out.images != nil {
		out.images.Flush()
		c.pendingImages = imageOutput{pattern: out.images.Pattern(), layers: out.images.Layers()}
		if st := out.images.Stats(); st.Failed > 0 {
			c.recordLocked(StepWriters, LevelWarning, "%d image sequence frames failed to write.", st.Failed)
		}
	}
	if out.encoder == nil {
		return ""
	}
	if err := out.encoder.Finalize(ctx); err != nil {
		c.recordLocked(StepWriters, LevelWarning, "NVENC output could not be finalized: %v", err)
	}
	return out.encoder.OutputPath()
}

func (c *Controller) segmentBytesLocked() int64 {
	var video, audioPath string
	if out := c.out.Load(); out != nil && out.encoder != nil {
		if err := out.encoder.Flush(); err != nil {
			c.logger.Debug("Bitstream flush before size check failed", "error", err)
		}
		video = out.encoder.OutputPath()
	}
	if c.audioActive {
		audioPath = c.recorder.OutputPath()
	}
	return segment.SegmentBytes(c.segments.Directory(), c.segments.BaseName(), video, audioPath)
}

// rotateLocked closes the active segment and opens the next one. Failing
// steps are recorded and the rotation carries on.
func (c *Controller) rotateLocked(ctx context.Context) {
	c.recordLocked(StepSegment, LevelInfo, "Rotating capture segment -> %d", c.segments.Index()+1)

	c.ring.Flush()
	c.muxer.EndSession()
	audioPath := c.stopAudioLocked()
	videoPath := c.shutdownWritersLocked(ctx)
	c.completeSegmentLocked(audioPath, videoPath)

	c.segments.Advance()
	if err := c.segments.Reconfigure(c.now()); err != nil {
		c.recordLocked(StepSegment, LevelWarning, "Segment %d could not be configured: %v", c.segments.Index(), err)
	}
	c.frameIndex = 0
	if err := c.initWritersLocked(ctx); err != nil {
		c.recordLocked(StepSegment, LevelWarning, "Writers for segment %d could not be initialized: %v", c.segments.Index(), err)
	}
	c.muxer.BeginSession(c.settings)
	c.recorder.ResetStats()
	c.startAudioLocked()
	c.fps.reset(c.now())
}

// completeSegmentLocked records the active segment if it captured frames.
func (c *Controller) completeSegmentLocked(audioPath, videoPath string) {
	frames := c.segmentFrames
	hasImages := c.segmentHasImages
	images := c.pendingImages
	c.segmentFrames = nil
	c.segmentHasImages = false
	c.pendingImages = imageOutput{}

	if c.segments == nil {
		return
	}
	rec, ok := c.segments.Complete(frames, c.totalDroppedLocked(), audioPath, videoPath, hasImages)
	if !ok {
		return
	}
	c.segmentImages[rec.Index] = images
	c.bus.Publish(events.SegmentCompletedEvent{
		AttemptID:        c.attempt,
		SessionID:        c.sessionID,
		Index:            rec.Index,
		Directory:        rec.Directory,
		BaseName:         rec.BaseName,
		Frames:           len(rec.Frames),
		DroppedFrames:    rec.DroppedFrames,
		HasImageSequence: rec.HasImageSequence,
		AudioPath:        rec.AudioPath,
		VideoPath:        rec.VideoPath,
		Timestamp:        c.now().Format(time.RFC3339),
	})
}

// finalizeOutputsLocked writes the sidecars and muxes every segment. It
// returns the completion detail and the newest deliverable.
func (c *Controller) finalizeOutputsLocked(ctx context.Context, records []segment.Record) (string, string) {
	c.recordLocked(StepFinalize, LevelInfo, "Finalize outputs requested (Finalize=%s).", "true")
	if len(records) == 0 {
		c.recordLocked(StepFinalize, LevelWarning, "FinalizeOutputs called with no captured frames")
		return "No finalized output was generated.", ""
	}

	m := muxer.New(c.muxerOpts...)
	detail := "No finalized output was generated."
	var output string

	for _, rec := range records {
		s := c.settings
		s.OutputFileName = rec.BaseName
		if rec.VideoPath == "" && rec.HasImageSequence {
			s.OutputFormat = settings.OutputImageSequence
		}
		images := c.segmentImages[rec.Index]

		if err := m.Initialize(s, rec.Directory); err != nil {
			c.recordLocked(StepFinalize, LevelWarning, "Output muxing failed for segment %d. Check OmniCapture manifest for details.", rec.Index)
			continue
		}
		res, err := m.Finalize(ctx, s, muxer.Input{
			Frames:          rec.Frames,
			AudioPath:       rec.AudioPath,
			VideoPath:       rec.VideoPath,
			ImagePattern:    images.pattern,
			DroppedFrames:   rec.DroppedFrames,
			AuxiliaryLayers: images.layers,
		})
		if err != nil {
			c.recordLocked(StepFinalize, LevelWarning, "Output muxing failed for segment %d. Check OmniCapture manifest for details.", rec.Index)
		}

		switch {
		case s.IsImageSequence() && rec.HasImageSequence:
			c.recordLocked(StepFinalize, LevelInfo, "Image sequence frames saved to %s with base name %s.", rec.Directory, rec.BaseName)
		case s.IsImageSequence():
			c.recordLocked(StepFinalize, LevelWarning, "No image sequence fallback was recorded for this segment.")
		case rec.HasImageSequence:
			c.recordLocked(StepFinalize, LevelInfo, "Image sequence fallback saved alongside NVENC output in %s.", rec.Directory)
		}

		switch {
		case res.Muxed:
			output = res.OutputPath
			detail = fmt.Sprintf("Final output: %s", output)
			c.recordLocked(StepFinalize, LevelInfo, "Muxed output ready: %s", output)
		case rec.HasImageSequence:
			output = rec.Directory
			detail = fmt.Sprintf("Image sequence stored in %s", output)
		case rec.VideoPath != "":
			output = rec.VideoPath
			detail = fmt.Sprintf("Encoded video: %s", output)
		}
	}

	if output != "" {
		c.lastFinalized = output
	}
	return detail, output
}

// configureAudioLocked decides whether this capture records audio.
func (c *Controller) configureAudioLocked() {
	c.audioEnabled = false
	if !c.settings.RecordAudio {
		return
	}
	if c.settings.IsImageSequence() && c.settings.ImageFormat == settings.ImagePNG {
		c.addWarningLocked("Audio recording is disabled for PNG image sequences to prevent extended A/V drift.")
		return
	}
	c.recordLocked(StepAudio, LevelInfo, "Initializing audio recording.")
	if !c.recorder.Initialize(c.settings) {
		c.recordLocked(StepAudio, LevelWarning, "Failed to initialize audio recorder.")
		return
	}
	c.audioEnabled = true
}

func (c *Controller) startAudioLocked() {
	if !c.audioEnabled {
		return
	}
	if err := c.recorder.Start(c.runCtx, c.segments.Directory(), c.segments.BaseName()); err != nil {
		c.recordLocked(StepAudio, LevelWarning, "Failed to initialize audio recorder: %v", err)
		c.audioActive = false
		return
	}
	c.audioActive = true
	c.recordLocked(StepAudio, LevelInfo, "Audio recorder started.")
}

// stopAudioLocked stops the recorder and returns the WAV path.
func (c *Controller) stopAudioLocked() string {
	if !c.audioActive {
		return ""
	}
	c.audioActive = false
	path, err := c.recorder.Stop()
	if err != nil {
		c.recordLocked(StepAudio, LevelWarning, "Audio recording could not be finalized: %v", err)
		return path
	}
	if path != "" {
		c.recordLocked(StepAudio, LevelInfo, "Audio recording saved to %s", path)
	}
	return path
}
