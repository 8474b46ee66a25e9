package logging

import (
	"log/slog"
	"testing"
	"time"
)

func TestJournalFieldName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"attempt", "ATTEMPT"},
		{"dropped-frames", "DROPPED_FRAMES"},
		{"_private", "PRIVATE"},
		{"4k", "K"},
		{"step.name", "STEP_NAME"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := journalFieldName(tt.in); got != tt.want {
				t.Errorf("journalFieldName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJournalAttr(t *testing.T) {
	fields := map[string]string{}
	stamp := time.Date(2025, 1, 9, 10, 30, 0, 0, time.UTC)

	journalAttr(fields, "", slog.Int("attempt", 3))
	journalAttr(fields, "", slog.Float64("fps", 59.94))
	journalAttr(fields, "", slog.Bool("paused", false))
	journalAttr(fields, "", slog.Time("started", stamp))
	journalAttr(fields, "", slog.Group("segment", slog.Int("index", 2), slog.String("path", "/tmp/a.mp4")))
	journalAttr(fields, "CAPTURE", slog.String("step", "encoder"))

	want := map[string]string{
		"ATTEMPT":       "3",
		"FPS":           "59.94",
		"PAUSED":        "false",
		"STARTED":       "2025-01-09T10:30:00Z",
		"SEGMENT_INDEX": "2",
		"SEGMENT_PATH":  "/tmp/a.mp4",
		"CAPTURE_STEP":  "encoder",
	}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%s] = %q, want %q", k, fields[k], v)
		}
	}
}

func TestJournalHandlerWithAttrsIsolated(t *testing.T) {
	base := NewJournalHandler(slog.LevelInfo)
	child := base.WithAttrs([]slog.Attr{slog.String("module", "capture")}).(*JournalHandler)
	grouped := child.WithGroup("encoder").(*JournalHandler)

	if len(base.fields) != 0 {
		t.Errorf("base fields = %v, want none", base.fields)
	}
	if child.fields["MODULE"] != "capture" {
		t.Errorf("child MODULE = %q", child.fields["MODULE"])
	}
	if grouped.prefix != "ENCODER" {
		t.Errorf("grouped prefix = %q, want ENCODER", grouped.prefix)
	}
	if base.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
}
