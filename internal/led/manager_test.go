package led

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/omnicapture/internal/events"
)

type setCall struct {
	name    string
	enabled bool
	pattern string
}

type mockController struct {
	mu    sync.Mutex
	calls []setCall
}

func (m *mockController) Set(name string, enabled bool, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, setCall{name, enabled, pattern})
	return nil
}

func (m *mockController) Available() []string { return []string{TallyName} }

func (m *mockController) Patterns() []string {
	return []string{PatternSolid, PatternBlink, PatternHeartbeat}
}

func (m *mockController) snapshot() []setCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]setCall(nil), m.calls...)
}

func (m *mockController) waitFor(t *testing.T, want setCall) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := m.snapshot()
		if len(calls) > 0 && calls[len(calls)-1] == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("last call never became %+v; calls = %+v", want, m.snapshot())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerFollowsCaptureState(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		dropped bool
		want    setCall
	}{
		{"recording", "Recording", false, setCall{TallyName, true, PatternSolid}},
		{"recording with drops", "Recording", true, setCall{TallyName, true, PatternBlink}},
		{"paused", "Paused", false, setCall{TallyName, true, PatternHeartbeat}},
		{"finalizing", "Finalizing", false, setCall{TallyName, true, PatternHeartbeat}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &mockController{}
			bus := events.New()
			mgr := NewManager(ctrl, bus, quietLogger())
			mgr.Start()
			defer mgr.Stop()

			bus.Publish(events.CaptureStateChangedEvent{State: tt.state, DroppedFrames: tt.dropped})
			ctrl.waitFor(t, tt.want)
		})
	}
}

func TestManagerStartsAndStopsDark(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, quietLogger())

	mgr.Start()
	off := setCall{TallyName, false, ""}
	if calls := ctrl.snapshot(); len(calls) != 1 || calls[0] != off {
		t.Fatalf("calls after Start = %+v", calls)
	}

	bus.Publish(events.CaptureStateChangedEvent{State: "Recording"})
	ctrl.waitFor(t, setCall{TallyName, true, PatternSolid})

	mgr.Stop()
	ctrl.waitFor(t, off)
	mgr.Stop()
}

func TestManagerSkipsRepeatedState(t *testing.T) {
	ctrl := &mockController{}
	mgr := NewManager(ctrl, events.New(), quietLogger())

	mgr.handleEvent(events.CaptureStateChangedEvent{State: "Recording"})
	mgr.handleEvent(events.CaptureStateChangedEvent{State: "Recording"})
	mgr.handleEvent(events.CaptureStateChangedEvent{State: "Idle"})

	calls := ctrl.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v, want 2", calls)
	}
	if calls[1].enabled {
		t.Error("idle left the light on")
	}
}

func TestManagerController(t *testing.T) {
	ctrl := &mockController{}
	if got := NewManager(ctrl, events.New(), quietLogger()).Controller(); got != ctrl {
		t.Error("Controller() did not return the original controller")
	}
}
