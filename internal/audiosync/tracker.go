// Package audiosync tracks the offset between the audio and video timelines
// of a running capture.
package audiosync

import (
	"math"
	"sync"

	"github.com/smazurov/omnicapture/internal/frame"
)

const (
	// ThresholdForcedCFRMs is the drift limit when constant frame rate output is forced.
	ThresholdForcedCFRMs = 20.0
	// ThresholdVariableMs is the drift limit otherwise.
	ThresholdVariableMs = 35.0
)

// Stats is a snapshot of the tracker.
type Stats struct {
	LatestVideoTS      float64 `json:"latestVideoTimestamp"`
	LatestAudioTS      float64 `json:"latestAudioTimestamp"`
	DriftMs            float64 `json:"driftMs"`
	MaxObservedDriftMs float64 `json:"maxObservedDriftMs"`
	PendingPackets     int     `json:"pendingPackets"`
	InError            bool    `json:"inError"`
}

// Tracker compares the end of the newest audio packet with the newest video
// timestamp. It is only active between Begin and End.
type Tracker struct {
	mu          sync.Mutex
	active      bool
	sawAudio    bool
	thresholdMs float64
	stats       Stats
}

// NewTracker returns an inactive tracker. forceCFR selects the tighter
// drift threshold.
func NewTracker(forceCFR bool) *Tracker {
	t := &Tracker{}
	t.SetConstantFrameRate(forceCFR)
	return t
}

// SetConstantFrameRate switches between the CFR and variable thresholds.
func (t *Tracker) SetConstantFrameRate(forceCFR bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if forceCFR {
		t.thresholdMs = ThresholdForcedCFRMs
	} else {
		t.thresholdMs = ThresholdVariableMs
	}
}

// ThresholdMs returns the active drift limit.
func (t *Tracker) ThresholdMs() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.thresholdMs
}

// Begin starts a session with cleared statistics.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.sawAudio = false
	t.stats = Stats{}
}

// End stops the session and clears statistics.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.sawAudio = false
	t.stats = Stats{}
}

// Active reports whether a session is running.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// PushFrame records a video timestamp and the audio packets attached to it.
// Frames pushed outside a session are ignored. Drift is measured only once the
// session has seen at least one audio packet.
func (t *Tracker) PushFrame(videoTS float64, packets []frame.AudioPacket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}

	t.stats.LatestVideoTS = videoTS
	for _, p := range packets {
		t.stats.LatestAudioTS = math.Max(t.stats.LatestAudioTS, p.Timestamp+p.Duration())
		t.sawAudio = true
	}
	t.stats.PendingPackets = len(packets)
	if !t.sawAudio {
		return
	}

	drift := (t.stats.LatestAudioTS - t.stats.LatestVideoTS) * 1000
	t.stats.DriftMs = drift
	t.stats.MaxObservedDriftMs = math.Max(t.stats.MaxObservedDriftMs, math.Abs(drift))
	t.stats.InError = math.Abs(drift) > t.thresholdMs
}

// Stats returns the current snapshot.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
