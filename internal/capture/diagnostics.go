package capture

import (
	"fmt"
	"slices"
	"time"

	"github.com/smazurov/omnicapture/internal/events"
)

// DefaultDiagnosticsLimit is the number of diagnostics kept per attempt.
const DefaultDiagnosticsLimit = 256

// Level is the severity of a diagnostic entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Diagnostic is one entry of the capture diagnostics log.
type Diagnostic struct {
	Timestamp time.Time `json:"timestamp"`
	AttemptID int       `json:"attemptId"`
	Step      string    `json:"step"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Elapsed   float64   `json:"elapsedSeconds"`
}

// Runtime warnings. Each is active at most once and cleared when its
// condition goes away.
const (
	WarningLowDisk    = "Storage space is low for OmniCapture output"
	WarningFrameDrop  = "Frame drops detected - rendering slower than encode path"
	WarningLowFPS     = "Capture frame rate is below the configured target"
	WarningAudioDrift = "Audio drift exceeds the sync threshold"
)

// Pipeline steps recorded in diagnostics.
const (
	StepBegin       = "BeginCapture"
	StepValidate    = "ValidateEnvironment"
	StepFallback    = "Fallback"
	StepCreateRig   = "CreateRig"
	StepWriters     = "InitializeOutputs"
	StepAudio       = "Audio"
	StepCaptureLoop = "CaptureLoop"
	StepSegment     = "Segment"
	StepEnd         = "EndCapture"
	StepFinalize    = "FinalizeOutputs"
	StepIdle        = "Idle"
	StepGeneral     = "General"
)

// recordLocked appends a diagnostic, mirrors it to the log and the event bus,
// and remembers errors as the last error. Callers hold c.mu.
func (c *Controller) recordLocked(step string, level Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	now := c.now()
	elapsed := 0.0
	if !c.attemptStart.IsZero() {
		elapsed = now.Sub(c.attemptStart).Seconds()
	}

	d := Diagnostic{
		Timestamp: now,
		AttemptID: c.attempt,
		Step:      step,
		Level:     level,
		Message:   msg,
		Elapsed:   elapsed,
	}
	c.diagnostics.Write(d)

	switch level {
	case LevelError:
		c.lastError = msg
		c.logger.Error(msg, "step", step, "attempt", c.attempt)
	case LevelWarning:
		c.logger.Warn(msg, "step", step, "attempt", c.attempt)
	default:
		c.logger.Info(msg, "step", step, "attempt", c.attempt)
	}

	c.bus.Publish(events.CaptureDiagnosticEvent{
		AttemptID: c.attempt,
		Step:      step,
		Level:     string(level),
		Message:   msg,
		Elapsed:   elapsed,
		Timestamp: now.Format(time.RFC3339),
	})
}

// addWarningLocked activates warning once.
func (c *Controller) addWarningLocked(warning string) {
	if warning == "" || slices.Contains(c.warnings, warning) {
		return
	}
	c.warnings = append(c.warnings, warning)
	c.recordLocked(StepGeneral, LevelWarning, "Warning active: %s", warning)
	c.bus.Publish(events.CaptureWarningEvent{
		AttemptID: c.attempt,
		Warning:   warning,
		Active:    true,
		Timestamp: c.now().Format(time.RFC3339),
	})
}

// clearWarningLocked deactivates warning if it is active.
func (c *Controller) clearWarningLocked(warning string) {
	i := slices.Index(c.warnings, warning)
	if i < 0 {
		return
	}
	c.warnings = slices.Delete(c.warnings, i, i+1)
	c.recordLocked(StepGeneral, LevelInfo, "Warning cleared: %s", warning)
	c.bus.Publish(events.CaptureWarningEvent{
		AttemptID: c.attempt,
		Warning:   warning,
		Active:    false,
		Timestamp: c.now().Format(time.RFC3339),
	})
}

// Diagnostics returns the diagnostics of the current or last attempt,
// oldest first.
func (c *Controller) Diagnostics() []Diagnostic {
	return c.diagnostics.ReadAll()
}

// Warnings returns the active warnings.
func (c *Controller) Warnings() []string {
	return slices.Clone(c.Status().Warnings)
}

// LastError returns the most recent error diagnostic.
func (c *Controller) LastError() string {
	return c.Status().LastError
}

// LastFinalizedOutput returns the newest muxed output or image directory.
func (c *Controller) LastFinalizedOutput() string {
	return c.Status().LastFinalized
}
