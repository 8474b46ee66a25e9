// Package collectors feeds the capture metrics from the event bus.
package collectors

import (
	"log/slog"
	"sync"

	"github.com/smazurov/omnicapture/internal/events"
	"github.com/smazurov/omnicapture/internal/metrics"
)

// CaptureCollector updates the capture metrics from controller events.
type CaptureCollector struct {
	bus    *events.Bus
	logger *slog.Logger

	mu     sync.Mutex
	unsubs []func()
}

// NewCaptureCollector creates a collector for bus.
func NewCaptureCollector(bus *events.Bus, logger *slog.Logger) *CaptureCollector {
	return &CaptureCollector{bus: bus, logger: logger}
}

// Start subscribes to the capture events.
func (c *CaptureCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubs != nil {
		return
	}
	metrics.SetCaptureState("Idle")
	c.unsubs = []func(){
		c.bus.Subscribe(func(e events.CaptureStatsEvent) {
			metrics.SetCaptureStats(metrics.Stats{
				Frames:         e.Frames,
				DroppedFrames:  e.DroppedFrames,
				Pending:        e.Pending,
				Blocked:        e.Blocked,
				FPS:            e.FPS,
				Segment:        e.Segment,
				EncodedBytes:   e.EncodedBytes,
				AudioDriftMs:   e.AudioDriftMs,
				AudioSyncError: e.AudioSyncError,
			})
		}),
		c.bus.Subscribe(func(e events.CaptureStateChangedEvent) {
			metrics.SetCaptureState(e.State)
		}),
		c.bus.Subscribe(func(e events.CaptureWarningEvent) {
			metrics.SetWarning(e.Warning, e.Active)
		}),
		c.bus.Subscribe(func(events.SegmentCompletedEvent) {
			metrics.IncSegments()
		}),
		c.bus.Subscribe(func(e events.CaptureCompletedEvent) {
			outcome := "completed"
			if !e.Finalized {
				outcome = "stopped"
			}
			metrics.ObserveAttempt(outcome, e.DurationSeconds)
			metrics.ResetCapture()
		}),
		c.bus.Subscribe(func(e events.CaptureFailedEvent) {
			metrics.ObserveAttempt("failed", e.DurationSeconds)
			metrics.ResetCapture()
		}),
		c.bus.Subscribe(func(e events.CapabilitiesProbedEvent) {
			metrics.SetHardwareAvailable(e.HardwareAvailable)
		}),
	}
	if c.logger != nil {
		c.logger.Info("Capture metrics collector started")
	}
}

// Stop unsubscribes from the bus.
func (c *CaptureCollector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}
