package systemd

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

func newTestNotifier() (*Notifier, *recorder) {
	rec := &recorder{}
	n := NewNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.notify = rec.notify
	return n, rec
}

func TestStatusAndStopping(t *testing.T) {
	n, rec := newTestNotifier()

	n.Status("Recording attempt #%d", 3)
	n.Stopping()

	want := []string{"STATUS=Recording attempt #3", "STOPPING=1"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Errorf("states = %q, want %q", got, want)
	}
}

func TestWatchdogPings(t *testing.T) {
	n, rec := newTestNotifier()
	n.startWatchdog(context.Background(), 5*time.Millisecond)
	n.startWatchdog(context.Background(), 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for !slices.Contains(rec.snapshot(), "WATCHDOG=1") {
		if time.Now().After(deadline) {
			t.Fatal("no watchdog ping")
		}
		time.Sleep(5 * time.Millisecond)
	}

	n.Stopping()
	states := rec.snapshot()
	if states[len(states)-1] != "STOPPING=1" {
		t.Errorf("last state = %q, want STOPPING=1", states[len(states)-1])
	}
}
