package preview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	previewPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "omnicapture",
		Subsystem: "preview",
		Name:      "packets_total",
		Help:      "RTP packets written to the preview track",
	})

	previewBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "omnicapture",
		Subsystem: "preview",
		Name:      "bytes_total",
		Help:      "RTP payload bytes written to the preview track",
	})

	previewDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "omnicapture",
		Subsystem: "preview",
		Name:      "dropped_packets_total",
		Help:      "Encoder packets dropped because the preview queue was full",
	})

	previewNACKs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "omnicapture",
		Subsystem: "preview",
		Name:      "nacks_received_total",
		Help:      "NACK requests received from viewers (indicates packet loss)",
	})

	previewKeyframeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "omnicapture",
		Subsystem: "preview",
		Name:      "keyframe_requests_total",
		Help:      "PLI and FIR requests received from viewers",
	}, []string{"type"})

	previewPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "omnicapture",
		Subsystem: "preview",
		Name:      "active_peers",
		Help:      "Number of connected preview viewers",
	})
)

func incrementPacketsSent(bytes int) {
	previewPackets.Inc()
	previewBytes.Add(float64(bytes))
}

func incrementNACKs(count int) {
	previewNACKs.Add(float64(count))
}

func incrementKeyframeRequests(kind string) {
	previewKeyframeRequests.WithLabelValues(kind).Inc()
}

func setActivePeers(count int) {
	previewPeers.Set(float64(count))
}
