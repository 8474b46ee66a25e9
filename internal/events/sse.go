package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels
// This is needed for SSE integration where Huma expects a channel-based select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// SubscribeAllToChannel subscribes ch to every capture event type. The
// returned function removes all subscriptions.
func SubscribeAllToChannel(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[CaptureStateChangedEvent](bus, ch),
		SubscribeToChannel[CaptureWarningEvent](bus, ch),
		SubscribeToChannel[CaptureDiagnosticEvent](bus, ch),
		SubscribeToChannel[SegmentCompletedEvent](bus, ch),
		SubscribeToChannel[CaptureCompletedEvent](bus, ch),
		SubscribeToChannel[CaptureFailedEvent](bus, ch),
		SubscribeToChannel[CaptureStatsEvent](bus, ch),
		SubscribeToChannel[CapabilitiesProbedEvent](bus, ch),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
