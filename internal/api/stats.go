package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/omnicapture/internal/events"
)

// registerStatsRoutes registers the once per second capture statistics
// stream used by dashboards that only chart counters.
func (s *Server) registerStatsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "stats-stream",
		Method:      http.MethodGet,
		Path:        "/api/capture/stats",
		Summary:     "Capture Statistics Stream",
		Description: "Frame, drop, ring buffer and audio drift counters of the running capture",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"capture-stats": events.CaptureStatsEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeToChannel[events.CaptureStatsEvent](s.eventBus, eventCh)
		defer unsubscribe()

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
