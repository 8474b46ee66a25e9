package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	history = nil
	entryCallback = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"capture": "debug",
			"api":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"capture", true, true, true},
		{"api", false, false, true},
		{"nvenc", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCreatedBeforeInitializePicksUpLevel(t *testing.T) {
	resetState()

	before := GetLogger("preview")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"preview": "debug"}})

	after := GetLogger("preview")
	if !after.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger should have debug enabled after Initialize")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info"})

	logger := GetLogger("segment")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should start disabled")
	}

	if !SetModuleLevel("segment", "debug") {
		t.Fatal("SetModuleLevel rejected a valid level")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after SetModuleLevel")
	}

	if SetModuleLevel("segment", "loud") {
		t.Error("SetModuleLevel accepted an invalid level")
	}
}

func TestHistoryRecordsEntries(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug", HistorySize: 4})

	var seen []LogEntry
	SetEntryCallback(func(e LogEntry) { seen = append(seen, e) })

	logger := GetLogger("muxer")
	logger.Warn("ffmpeg returned non-zero exit code", "code", 1, "error", errors.New("exit status 1"))

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Module != "muxer" || got.Level != "warn" {
		t.Errorf("unexpected entry module=%q level=%q", got.Module, got.Level)
	}
	if got.Attributes["error"] != "exit status 1" {
		t.Errorf("error attribute = %v", got.Attributes["error"])
	}
	if len(seen) != 1 {
		t.Errorf("callback invoked %d times, want 1", len(seen))
	}
}

func TestBufferHandlerGroups(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info", HistorySize: 8})

	logger := slog.New(NewBufferHandler(slog.LevelInfo)).
		With("module", "capture", "attempt", 3).
		WithGroup("segment")
	logger.Info("Segment rotated", "index", 2, slog.Group("audio", "drift", 0.01))

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Module != "capture" {
		t.Errorf("Module = %q, want capture", got.Module)
	}
	want := map[string]any{"attempt": int64(3), "segment.index": int64(2), "segment.audio.drift": 0.01}
	if len(got.Attributes) != len(want) {
		t.Fatalf("Attributes = %v, want %v", got.Attributes, want)
	}
	for k, v := range want {
		if got.Attributes[k] != v {
			t.Errorf("Attributes[%s] = %v (%T), want %v", k, got.Attributes[k], got.Attributes[k], v)
		}
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")

	output := buf.String()
	if count := strings.Count(output, "debug only message"); count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, output)
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := range 5 {
		rb.Write(LogEntry{Message: string(rune('a' + i))})
	}

	entries := rb.ReadAll()
	if rb.Count() != 3 || len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "c" || entries[2].Message != "e" {
		t.Errorf("unexpected order: %q..%q", entries[0].Message, entries[2].Message)
	}
}

func TestRingLast(t *testing.T) {
	r := NewRing[int](4)
	if got := r.Last(2); got != nil {
		t.Errorf("Last() on empty ring = %v", got)
	}
	for i := range 6 {
		r.Write(i)
	}
	tests := []struct {
		n    int
		want []int
	}{
		{2, []int{4, 5}},
		{4, []int{2, 3, 4, 5}},
		{10, []int{2, 3, 4, 5}},
		{-1, []int{2, 3, 4, 5}},
	}
	for _, tt := range tests {
		if got := r.Last(tt.n); !slices.Equal(got, tt.want) {
			t.Errorf("Last(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	r.Reset()
	if r.Count() != 0 || r.ReadAll() != nil {
		t.Errorf("Reset() left %d entries", r.Count())
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
