package audiosync

import (
	"testing"

	"github.com/smazurov/omnicapture/internal/frame"
)

// packetEndingAt builds a one-second-rate mono packet that ends at end.
func packetEndingAt(start, end float64) frame.AudioPacket {
	const rate = 1000
	return frame.AudioPacket{
		Timestamp:   start,
		SampleRate:  rate,
		NumChannels: 1,
		PCM16:       make([]int16, int((end-start)*rate)),
	}
}

func TestNoAudioKeepsDriftAtZero(t *testing.T) {
	tr := NewTracker(true)
	tr.Begin()

	for _, ts := range []float64{0, 1, 2} {
		tr.PushFrame(ts, nil)
	}

	stats := tr.Stats()
	if stats.DriftMs != 0 {
		t.Errorf("DriftMs = %v, want 0", stats.DriftMs)
	}
	if stats.InError {
		t.Error("InError should be false without audio")
	}
	if stats.LatestVideoTS != 2 {
		t.Errorf("LatestVideoTS = %v, want 2", stats.LatestVideoTS)
	}
}

func TestDriftFromAttachedPacket(t *testing.T) {
	tr := NewTracker(false)
	tr.Begin()

	tr.PushFrame(0, nil)
	tr.PushFrame(1.0, []frame.AudioPacket{packetEndingAt(1.0, 1.5)})

	stats := tr.Stats()
	if stats.DriftMs != 500 {
		t.Errorf("DriftMs = %v, want 500", stats.DriftMs)
	}
	if stats.MaxObservedDriftMs != 500 {
		t.Errorf("MaxObservedDriftMs = %v, want 500", stats.MaxObservedDriftMs)
	}
	if !stats.InError {
		t.Error("500ms drift should be in error")
	}
	if stats.PendingPackets != 1 {
		t.Errorf("PendingPackets = %d, want 1", stats.PendingPackets)
	}
}

func TestLatestAudioIsRetained(t *testing.T) {
	tr := NewTracker(true)
	tr.Begin()

	tr.PushFrame(1.0, []frame.AudioPacket{packetEndingAt(0.5, 1.0)})
	tr.PushFrame(1.01, nil)

	stats := tr.Stats()
	if stats.LatestAudioTS != 1.0 {
		t.Errorf("LatestAudioTS = %v, want 1.0", stats.LatestAudioTS)
	}
	if stats.PendingPackets != 0 {
		t.Errorf("PendingPackets = %d, want 0", stats.PendingPackets)
	}
	if stats.InError {
		t.Errorf("drift %vms should be inside the 20ms threshold", stats.DriftMs)
	}
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		name     string
		forceCFR bool
		driftSec float64
		wantErr  bool
	}{
		{"cfr within", true, 0.015, false},
		{"cfr beyond", true, 0.025, true},
		{"vfr within", false, 0.025, false},
		{"vfr beyond", false, 0.040, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.forceCFR)
			tr.Begin()
			tr.PushFrame(1.0, []frame.AudioPacket{packetEndingAt(1.0-tt.driftSec, 1.0-tt.driftSec)})
			if got := tr.Stats().InError; got != tt.wantErr {
				t.Errorf("InError = %v, want %v (drift %vms)", got, tt.wantErr, tr.Stats().DriftMs)
			}
		})
	}
}

func TestInactiveOutsideSession(t *testing.T) {
	tr := NewTracker(true)
	tr.PushFrame(1, []frame.AudioPacket{packetEndingAt(1, 2)})
	if got := tr.Stats(); got != (Stats{}) {
		t.Errorf("stats before Begin = %+v, want zero", got)
	}

	tr.Begin()
	tr.PushFrame(1, []frame.AudioPacket{packetEndingAt(1, 2)})
	if tr.Stats().MaxObservedDriftMs == 0 {
		t.Fatal("expected drift during session")
	}

	tr.End()
	if got := tr.Stats(); got != (Stats{}) {
		t.Errorf("stats after End = %+v, want zero", got)
	}
	if tr.Active() {
		t.Error("tracker still active after End")
	}
}
