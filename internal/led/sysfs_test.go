package led

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func fakeLED(t *testing.T, name string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"trigger", "brightness"} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readAttr(t *testing.T, root, name, attr string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name, attr))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSysfsSet(t *testing.T) {
	tests := []struct {
		name           string
		enabled        bool
		pattern        string
		wantTrigger    string
		wantBrightness string
	}{
		{"solid", true, PatternSolid, "none", "1"},
		{"blink", true, PatternBlink, "timer", "1"},
		{"heartbeat", true, PatternHeartbeat, "heartbeat", "1"},
		{"off", false, "", "none", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := fakeLED(t, "rec_led")
			s := newSysfs(root, map[string]string{TallyName: "rec_led"})

			if err := s.Set(TallyName, tt.enabled, tt.pattern); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if got := readAttr(t, root, "rec_led", "trigger"); got != tt.wantTrigger {
				t.Errorf("trigger = %q, want %q", got, tt.wantTrigger)
			}
			if got := readAttr(t, root, "rec_led", "brightness"); got != tt.wantBrightness {
				t.Errorf("brightness = %q, want %q", got, tt.wantBrightness)
			}
		})
	}
}

func TestSysfsUnknownLED(t *testing.T) {
	s := newSysfs(t.TempDir(), map[string]string{TallyName: "missing"})
	if err := s.Set("other", true, PatternSolid); err == nil {
		t.Error("expected error for unconfigured LED")
	}
	if err := s.Set(TallyName, true, PatternSolid); err == nil {
		t.Error("expected error for missing sysfs directory")
	}
}

func TestSysfsAvailableSorted(t *testing.T) {
	s := newSysfs(t.TempDir(), map[string]string{"b": "b_led", "a": "a_led"})
	if got := s.Available(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Available = %v", got)
	}
}

func TestNewForRoot(t *testing.T) {
	root := fakeLED(t, "rec_led")

	if _, ok := newForRoot(quietLogger(), root, "").(noop); !ok {
		t.Error("empty device should give a no-op controller")
	}
	if _, ok := newForRoot(quietLogger(), root, "absent").(noop); !ok {
		t.Error("missing device should give a no-op controller")
	}
	ctrl := newForRoot(quietLogger(), root, "rec_led")
	if got := ctrl.Available(); !slices.Equal(got, []string{TallyName}) {
		t.Errorf("Available = %v", got)
	}
	if err := ctrl.Set(TallyName, true, PatternSolid); err != nil {
		t.Errorf("Set: %v", err)
	}
}

func TestNoop(t *testing.T) {
	var c Controller = noop{}
	if err := c.Set(TallyName, true, PatternSolid); err != nil {
		t.Errorf("Set: %v", err)
	}
	if len(c.Available()) != 0 || len(c.Patterns()) != 0 {
		t.Error("noop reports capabilities")
	}
}
