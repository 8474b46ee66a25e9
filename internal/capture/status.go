package capture

import (
	"fmt"
	"strings"

	"github.com/smazurov/omnicapture/internal/audiosync"
	"github.com/smazurov/omnicapture/internal/settings"
)

// Status is a point in time view of the controller. Readers never block on
// a running capture.
type Status struct {
	State           State                 `json:"state"`
	DroppedFrames   bool                  `json:"droppedFrames"`
	Capturing       bool                  `json:"capturing"`
	Attempt         int                   `json:"attempt"`
	SessionID       string                `json:"sessionId,omitempty"`
	Frames          int                   `json:"frames"`
	Dropped         int                   `json:"dropped"`
	Pending         int                   `json:"pending"`
	Blocked         int                   `json:"blocked"`
	FPS             float64               `json:"fps"`
	Segment         int                   `json:"segment"`
	EncodedBytes    int64                 `json:"encodedBytes"`
	Audio           audiosync.Stats       `json:"audio"`
	AudioDebug      string                `json:"audioDebug,omitempty"`
	Warnings        []string              `json:"warnings"`
	LastError       string                `json:"lastError,omitempty"`
	LastFinalized   string                `json:"lastFinalized,omitempty"`
	OutputFormat    settings.OutputFormat `json:"outputFormat,omitempty"`
	Codec           settings.Codec        `json:"codec,omitempty"`
	ColorFormat     settings.ColorFormat  `json:"colorFormat,omitempty"`
	OutputDirectory string                `json:"outputDirectory,omitempty"`
	Summary         string                `json:"summary"`
}

// Status returns the latest snapshot.
func (c *Controller) Status() Status {
	if st := c.status.Load(); st != nil {
		return *st
	}
	return Status{State: StateIdle}
}

// StatusString returns the one line status shown by the CLI and the API.
func (c *Controller) StatusString() string {
	return c.Status().Summary
}

func (c *Controller) refreshStatusLocked() {
	st := c.buildStatusLocked()
	c.status.Store(&st)
}

func (c *Controller) buildStatusLocked() Status {
	st := Status{
		State:         c.state,
		DroppedFrames: c.droppedFrames,
		Capturing:     c.capturing,
		Attempt:       c.attempt,
		SessionID:     c.sessionID,
		Frames:        c.framesCaptured,
		FPS:           c.fps.value,
		Warnings:      append([]string(nil), c.warnings...),
		LastError:     c.lastError,
		LastFinalized: c.lastFinalized,
	}
	if c.attempt > 0 {
		st.OutputFormat = c.settings.OutputFormat
		st.Codec = c.settings.Codec
		st.ColorFormat = c.settings.ColorFormat
		st.OutputDirectory = c.settings.OutputDirectory
	}
	if c.capturing {
		st.Dropped = c.totalDroppedLocked()
		if c.ring != nil {
			rs := c.ring.Stats()
			st.Pending = int(rs.Pending)
			st.Blocked = int(rs.Blocked)
		}
		if c.segments != nil {
			st.Segment = c.segments.Index()
		}
		if c.muxer != nil {
			st.Audio = c.muxer.SyncStats()
		}
		if out := c.out.Load(); out != nil && out.encoder != nil {
			st.EncodedBytes = out.encoder.Stats().BytesWritten
		}
		if c.audioActive {
			st.AudioDebug = c.recorder.DebugStatus()
		}
	}
	st.Summary = st.summary()
	return st
}

func (st Status) summary() string {
	var b strings.Builder
	switch st.State {
	case StateRecording:
		if st.DroppedFrames {
			b.WriteString("Recording (Dropped Frames)")
		} else {
			b.WriteString("Recording")
		}
	default:
		b.WriteString(string(st.State))
	}

	if st.State == StateRecording || st.State == StatePaused {
		fmt.Fprintf(&b, " | Frames:%d Pending:%d Dropped:%d Blocked:%d", st.Frames, st.Pending, st.Dropped, st.Blocked)
		if st.FPS > 0 {
			fmt.Fprintf(&b, " | FPS:%.2f", st.FPS)
		}
		fmt.Fprintf(&b, " | Segment:%d", st.Segment)
		if st.AudioDebug != "" {
			fmt.Fprintf(&b, " | Audio Drift:%.2fms (Max %.2fms) Pending:%d",
				st.Audio.DriftMs, st.Audio.MaxObservedDriftMs, st.Audio.PendingPackets)
			if st.Audio.InError {
				b.WriteString(" | AudioSyncError")
			}
			b.WriteString(" | ")
			b.WriteString(st.AudioDebug)
		}
	}

	if len(st.Warnings) > 0 {
		b.WriteString(" | Warnings: ")
		b.WriteString(strings.Join(st.Warnings, "; "))
	}
	return b.String()
}
