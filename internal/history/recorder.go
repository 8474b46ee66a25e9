package history

import (
	"context"
	"log/slog"

	"github.com/smazurov/omnicapture/internal/events"
)

// Recorder writes capture events into a Store.
type Recorder struct {
	store  *Store
	bus    *events.Bus
	logger *slog.Logger
	unsubs []func()
}

// NewRecorder creates a recorder for store fed by bus.
func NewRecorder(store *Store, bus *events.Bus, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, bus: bus, logger: logger}
}

// Start subscribes to segment, completion and failure events.
func (r *Recorder) Start() {
	r.unsubs = append(r.unsubs,
		r.bus.Subscribe(func(e events.SegmentCompletedEvent) {
			r.check(r.store.RecordSegment(context.Background(), e), "segment", e.SessionID)
		}),
		r.bus.Subscribe(func(e events.CaptureCompletedEvent) {
			r.check(r.store.RecordCompleted(context.Background(), e), "attempt", e.SessionID)
		}),
		r.bus.Subscribe(func(e events.CaptureFailedEvent) {
			r.check(r.store.RecordFailed(context.Background(), e), "attempt", e.SessionID)
		}),
	)
	r.logger.Info("Capture history recorder started")
}

// Stop unsubscribes from the bus.
func (r *Recorder) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Recorder) check(err error, what, session string) {
	if err != nil {
		r.logger.Warn("Failed to record capture history", "record", what, "session_id", session, "error", err)
	}
}
