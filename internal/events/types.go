package events

// Event type constants for kelindar/event.
const (
	TypeCaptureStateChanged uint32 = iota + 1
	TypeCaptureWarning
	TypeCaptureDiagnostic
	TypeSegmentCompleted
	TypeCaptureCompleted
	TypeCaptureFailed
	TypeCaptureStats
	TypeCapabilitiesProbed
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureStateChangedEvent is published on every controller state change.
type CaptureStateChangedEvent struct {
	AttemptID     int    `json:"attempt_id" example:"3" doc:"Capture attempt number"`
	SessionID     string `json:"session_id" doc:"Unique identifier of the capture attempt"`
	State         string `json:"state" example:"Recording" doc:"New controller state"`
	DroppedFrames bool   `json:"dropped_frames" doc:"Whether frames were dropped during this attempt"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStateChangedEvent.
func (e CaptureStateChangedEvent) Type() uint32 { return TypeCaptureStateChanged }

// CaptureWarningEvent is published when a warning becomes active or clears.
type CaptureWarningEvent struct {
	AttemptID int    `json:"attempt_id" example:"3" doc:"Capture attempt number"`
	Warning   string `json:"warning" example:"Low disk space" doc:"Warning text"`
	Active    bool   `json:"active" doc:"True when the warning was raised, false when cleared"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureWarningEvent.
func (e CaptureWarningEvent) Type() uint32 { return TypeCaptureWarning }

// CaptureDiagnosticEvent mirrors one entry of the capture diagnostics log.
type CaptureDiagnosticEvent struct {
	AttemptID int     `json:"attempt_id" example:"3" doc:"Capture attempt number"`
	Step      string  `json:"step" example:"ValidateEnvironment" doc:"Pipeline step"`
	Level     string  `json:"level" example:"warning" doc:"Diagnostic level"`
	Message   string  `json:"message" doc:"Diagnostic message"`
	Elapsed   float64 `json:"elapsed_seconds" doc:"Seconds since the capture started"`
	Timestamp string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureDiagnosticEvent.
func (e CaptureDiagnosticEvent) Type() uint32 { return TypeCaptureDiagnostic }

// SegmentCompletedEvent is published when a segment is closed.
type SegmentCompletedEvent struct {
	AttemptID        int    `json:"attempt_id" example:"3" doc:"Capture attempt number"`
	SessionID        string `json:"session_id" doc:"Unique identifier of the capture attempt"`
	Index            int    `json:"index" example:"0" doc:"Segment index"`
	Directory        string `json:"directory" doc:"Segment output directory"`
	BaseName         string `json:"base_name" example:"OmniCapture_seg01" doc:"Segment base file name"`
	Frames           int    `json:"frames" doc:"Frames captured in the segment"`
	DroppedFrames    int    `json:"dropped_frames" doc:"Frames dropped during the segment"`
	HasImageSequence bool   `json:"has_image_sequence" doc:"Whether the segment wrote image files"`
	AudioPath        string `json:"audio_path,omitempty" doc:"Recorded WAV file"`
	VideoPath        string `json:"video_path,omitempty" doc:"Encoded bitstream"`
	Timestamp        string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SegmentCompletedEvent.
func (e SegmentCompletedEvent) Type() uint32 { return TypeSegmentCompleted }

// CaptureCompletedEvent is published when a capture ends normally.
type CaptureCompletedEvent struct {
	AttemptID       int      `json:"attempt_id" example:"3" doc:"Capture attempt number"`
	SessionID       string   `json:"session_id" doc:"Unique identifier of the capture attempt"`
	Finalized       bool     `json:"finalized" doc:"Whether outputs were finalized"`
	Frames          int      `json:"frames" doc:"Frames captured"`
	DroppedFrames   int      `json:"dropped_frames" doc:"Frames dropped"`
	Segments        int      `json:"segments" doc:"Segments recorded"`
	DurationSeconds float64  `json:"duration_seconds" doc:"Wall clock duration of the attempt"`
	Output          string   `json:"output,omitempty" doc:"Final muxed output or image directory"`
	OutputFormat    string   `json:"output_format" example:"NVENCHardware" doc:"Effective output format"`
	Codec           string   `json:"codec" example:"HEVC" doc:"Effective codec"`
	Summary         string   `json:"summary" doc:"Human readable completion summary"`
	Warnings        []string `json:"warnings,omitempty" doc:"Warnings active at the end of the capture"`
	Timestamp       string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureCompletedEvent.
func (e CaptureCompletedEvent) Type() uint32 { return TypeCaptureCompleted }

// CaptureFailedEvent is published when a capture attempt aborts.
type CaptureFailedEvent struct {
	AttemptID       int     `json:"attempt_id" example:"3" doc:"Capture attempt number"`
	SessionID       string  `json:"session_id" doc:"Unique identifier of the capture attempt"`
	Step            string  `json:"step" example:"ValidateEnvironment" doc:"Step that failed"`
	Reason          string  `json:"reason" doc:"Failure reason"`
	DurationSeconds float64 `json:"duration_seconds" doc:"Seconds between the request and the failure"`
	Summary         string  `json:"summary" doc:"Human readable failure summary"`
	Timestamp       string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureFailedEvent.
func (e CaptureFailedEvent) Type() uint32 { return TypeCaptureFailed }

// CaptureStatsEvent is a once per second snapshot of a running capture.
type CaptureStatsEvent struct {
	AttemptID      int     `json:"attempt_id" example:"3" doc:"Capture attempt number"`
	Frames         int     `json:"frames" doc:"Frames captured so far"`
	DroppedFrames  int     `json:"dropped_frames" doc:"Frames dropped so far"`
	Pending        int     `json:"pending" doc:"Frames waiting in the ring buffer"`
	Blocked        int     `json:"blocked" doc:"Producer calls that had to wait for room"`
	FPS            float64 `json:"fps" doc:"Measured capture rate"`
	Segment        int     `json:"segment" doc:"Active segment index"`
	AudioDriftMs   float64 `json:"audio_drift_ms" doc:"Current audio drift"`
	AudioSyncError bool    `json:"audio_sync_error" doc:"Whether drift exceeds the threshold"`
	EncodedBytes   int64   `json:"encoded_bytes" doc:"Bytes written by the hardware encoder for the active segment"`
	Timestamp      string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStatsEvent.
func (e CaptureStatsEvent) Type() uint32 { return TypeCaptureStats }

// CapabilitiesProbedEvent is published after every encoder capability probe.
type CapabilitiesProbedEvent struct {
	HardwareAvailable bool   `json:"hardware_available" doc:"Whether a hardware encoder session could be opened"`
	Summary           string `json:"summary" doc:"One line capability summary"`
	Timestamp         string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CapabilitiesProbedEvent.
func (e CapabilitiesProbedEvent) Type() uint32 { return TypeCapabilitiesProbed }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
