// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "omnicapture"

var captureStates = []string{"Idle", "Recording", "Paused", "Finalizing"}

var (
	captureState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "state",
		Help:      "1 for the current controller state, 0 otherwise",
	}, []string{"state"})

	captureFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames",
		Help:      "Frames captured by the running attempt",
	})

	captureDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "dropped_frames",
		Help:      "Frames dropped by the running attempt",
	})

	capturePending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring_buffer",
		Name:      "pending",
		Help:      "Frames waiting in the ring buffer",
	})

	captureBlocked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring_buffer",
		Name:      "blocked",
		Help:      "Producer calls that waited for ring buffer room",
	})

	captureFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "fps",
		Help:      "Measured capture frame rate",
	})

	captureSegment = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "segment_index",
		Help:      "Index of the active segment",
	})

	encoderBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "segment_bytes",
		Help:      "Bytes written by the hardware encoder for the active segment",
	})

	encoderHardware = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "hardware_available",
		Help:      "1 if the last capability probe opened an encoder session",
	})

	audioDrift = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audio",
		Name:      "drift_ms",
		Help:      "Current audio to video drift",
	})

	audioSyncError = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audio",
		Name:      "sync_error",
		Help:      "1 while drift exceeds the sync threshold",
	})

	captureWarnings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "warning_active",
		Help:      "1 while a capture warning is active",
	}, []string{"warning"})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "attempts_total",
		Help:      "Capture attempts by outcome",
	}, []string{"outcome"})

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "attempt_duration_seconds",
		Help:      "Duration of finished capture attempts",
		Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
	})

	segmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "segments_total",
		Help:      "Segments completed across all attempts",
	})

	// Local cache for API and CLI access.
	cache   CaptureMetrics
	cacheMu sync.RWMutex
)

// CaptureMetrics holds the current metric values.
type CaptureMetrics struct {
	State             string
	Frames            int
	DroppedFrames     int
	Pending           int
	Blocked           int
	FPS               float64
	Segment           int
	EncodedBytes      int64
	AudioDriftMs      float64
	AudioSyncError    bool
	HardwareAvailable bool
	Warnings          map[string]bool
}

// Stats is one capture stats sample.
type Stats struct {
	Frames         int
	DroppedFrames  int
	Pending        int
	Blocked        int
	FPS            float64
	Segment        int
	EncodedBytes   int64
	AudioDriftMs   float64
	AudioSyncError bool
}

// SetCaptureStats records a stats sample of the running capture.
func SetCaptureStats(s Stats) {
	captureFrames.Set(float64(s.Frames))
	captureDropped.Set(float64(s.DroppedFrames))
	capturePending.Set(float64(s.Pending))
	captureBlocked.Set(float64(s.Blocked))
	captureFPS.Set(s.FPS)
	captureSegment.Set(float64(s.Segment))
	encoderBytes.Set(float64(s.EncodedBytes))
	audioDrift.Set(s.AudioDriftMs)
	audioSyncError.Set(boolValue(s.AudioSyncError))

	update(func(m *CaptureMetrics) {
		m.Frames = s.Frames
		m.DroppedFrames = s.DroppedFrames
		m.Pending = s.Pending
		m.Blocked = s.Blocked
		m.FPS = s.FPS
		m.Segment = s.Segment
		m.EncodedBytes = s.EncodedBytes
		m.AudioDriftMs = s.AudioDriftMs
		m.AudioSyncError = s.AudioSyncError
	})
}

// SetCaptureState marks state as the current controller state.
func SetCaptureState(state string) {
	for _, s := range captureStates {
		captureState.WithLabelValues(s).Set(boolValue(s == state))
	}
	update(func(m *CaptureMetrics) { m.State = state })
}

// SetWarning sets whether a warning is active.
func SetWarning(warning string, active bool) {
	captureWarnings.WithLabelValues(warning).Set(boolValue(active))
	update(func(m *CaptureMetrics) {
		if m.Warnings == nil {
			m.Warnings = make(map[string]bool)
		}
		if active {
			m.Warnings[warning] = true
		} else {
			delete(m.Warnings, warning)
		}
	})
}

// SetHardwareAvailable records the result of a capability probe.
func SetHardwareAvailable(available bool) {
	encoderHardware.Set(boolValue(available))
	update(func(m *CaptureMetrics) { m.HardwareAvailable = available })
}

// ObserveAttempt counts a finished attempt. Outcome is "completed",
// "stopped" or "failed".
func ObserveAttempt(outcome string, durationSeconds float64) {
	attemptsTotal.WithLabelValues(outcome).Inc()
	if durationSeconds > 0 {
		attemptDuration.Observe(durationSeconds)
	}
}

// IncSegments counts a completed segment.
func IncSegments() {
	segmentsTotal.Inc()
}

// ResetCapture zeroes the per-attempt gauges and clears the warnings.
func ResetCapture() {
	SetCaptureStats(Stats{})
	captureWarnings.Reset()
	update(func(m *CaptureMetrics) { m.Warnings = nil })
}

// GetCaptureMetrics returns a copy of the current values.
func GetCaptureMetrics() CaptureMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	dup := cache
	if cache.Warnings != nil {
		dup.Warnings = make(map[string]bool, len(cache.Warnings))
		for k, v := range cache.Warnings {
			dup.Warnings[k] = v
		}
	}
	return dup
}

func update(fn func(*CaptureMetrics)) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	fn(&cache)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
