package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/omnicapture/internal/events"
)

// Manager mirrors capture state changes onto the tally light:
// recording is solid, recording with dropped frames blinks, paused and
// finalizing show a heartbeat and idle is off.
type Manager struct {
	controller  Controller
	eventBus    *events.Bus
	unsubscribe func()
	logger      *slog.Logger

	mu      sync.Mutex
	enabled bool
	pattern string
	known   bool
}

// NewManager creates a tally manager.
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Start begins listening for capture state changes.
func (m *Manager) Start() {
	if m.unsubscribe != nil {
		return
	}
	m.apply(false, "")
	m.unsubscribe = m.eventBus.Subscribe(m.handleEvent)
	m.logger.Info("Tally manager started")
}

// Stop unsubscribes and switches the light off.
func (m *Manager) Stop() {
	if m.unsubscribe == nil {
		return
	}
	m.unsubscribe()
	m.unsubscribe = nil
	m.apply(false, "")
	m.logger.Info("Tally manager stopped")
}

// Controller returns the underlying LED controller.
func (m *Manager) Controller() Controller {
	return m.controller
}

func (m *Manager) handleEvent(e events.CaptureStateChangedEvent) {
	enabled, pattern := tallyFor(e.State, e.DroppedFrames)
	m.logger.Debug("Capture state changed", "state", e.State, "dropped_frames", e.DroppedFrames, "pattern", pattern)
	m.apply(enabled, pattern)
}

func tallyFor(state string, dropped bool) (bool, string) {
	switch state {
	case "Recording":
		if dropped {
			return true, PatternBlink
		}
		return true, PatternSolid
	case "Paused", "Finalizing":
		return true, PatternHeartbeat
	default:
		return false, ""
	}
}

func (m *Manager) apply(enabled bool, pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.known && m.enabled == enabled && m.pattern == pattern {
		return
	}
	if err := m.controller.Set(TallyName, enabled, pattern); err != nil {
		m.logger.Warn("Failed to set tally LED", "error", err)
		return
	}
	m.enabled, m.pattern, m.known = enabled, pattern, true
}
