package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/omnicapture/internal/events"
)

// captureEventTypes maps SSE event names to payloads.
var captureEventTypes = map[string]any{
	"capture-state-changed": events.CaptureStateChangedEvent{},
	"capture-warning":       events.CaptureWarningEvent{},
	"capture-diagnostic":    events.CaptureDiagnosticEvent{},
	"segment-completed":     events.SegmentCompletedEvent{},
	"capture-completed":     events.CaptureCompletedEvent{},
	"capture-failed":        events.CaptureFailedEvent{},
	"capture-stats":         events.CaptureStatsEvent{},
	"capabilities-probed":   events.CapabilitiesProbedEvent{},
}

// registerSSERoutes registers the capture event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time capture lifecycle, warning, diagnostic and statistics events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, captureEventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribe := events.SubscribeAllToChannel(s.eventBus, eventCh)
		defer unsubscribe()

		// The current state lets clients render without waiting for a change.
		if s.options.Capture != nil {
			st := s.options.Capture.Status()
			if err := send.Data(events.CaptureStateChangedEvent{
				AttemptID:     st.Attempt,
				SessionID:     st.SessionID,
				State:         string(st.State),
				DroppedFrames: st.DroppedFrames,
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
