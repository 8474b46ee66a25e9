package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/omnicapture/internal/capture"
	"github.com/smazurov/omnicapture/internal/history"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/settings"
)

type fakeCapture struct {
	mu        sync.Mutex
	status    capture.Status
	began     []settings.Settings
	beginErr  error
	endCalls  []bool
	paused    bool
	warnings  []string
	diags     []capture.Diagnostic
	lastError string
}

func (f *fakeCapture) Begin(_ context.Context, s settings.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	if f.status.Capturing {
		return capture.ErrAlreadyCapturing
	}
	f.began = append(f.began, s)
	f.status = capture.Status{State: capture.StateRecording, Capturing: true, Attempt: len(f.began)}
	return nil
}

func (f *fakeCapture) End(_ context.Context, finalize bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.status.Capturing {
		return capture.ErrNotCapturing
	}
	f.endCalls = append(f.endCalls, finalize)
	f.status = capture.Status{State: capture.StateIdle, Attempt: f.status.Attempt}
	return nil
}

func (f *fakeCapture) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.status.Capturing {
		return capture.ErrNotCapturing
	}
	f.paused = true
	f.status.State = capture.StatePaused
	return nil
}

func (f *fakeCapture) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.status.Capturing {
		return capture.ErrNotCapturing
	}
	f.paused = false
	f.status.State = capture.StateRecording
	return nil
}

func (f *fakeCapture) Status() capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCapture) Diagnostics() []capture.Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diags
}

func (f *fakeCapture) Warnings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warnings
}

func (f *fakeCapture) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

func (f *fakeCapture) set(fn func(f *fakeCapture)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCapture) calls() ([]settings.Settings, []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settings.Settings(nil), f.began...), append([]bool(nil), f.endCalls...)
}

type fakeProber struct {
	mu          sync.Mutex
	caps        nvenc.Capabilities
	cached      bool
	queries     int
	invalidated int
}

func (f *fakeProber) Query(context.Context) nvenc.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	f.cached = true
	return f.caps
}

func (f *fakeProber) Cached() (nvenc.Capabilities, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps, f.cached
}

func (f *fakeProber) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.cached = false
}

func (f *fakeProber) counts() (queries, invalidated int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries, f.invalidated
}

type fakeStore struct {
	mu    sync.Mutex
	saved []nvenc.Capabilities
}

func (f *fakeStore) Save(caps nvenc.Capabilities) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, caps)
	return nil
}

func (f *fakeStore) snapshot() []nvenc.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nvenc.Capabilities(nil), f.saved...)
}

type fakeHistory struct {
	attempts []history.Attempt
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]history.Attempt, error) {
	if limit < len(f.attempts) {
		return f.attempts[:limit], nil
	}
	return f.attempts, nil
}

func (f *fakeHistory) Get(_ context.Context, id int64) (history.Attempt, error) {
	for _, a := range f.attempts {
		if a.ID == id {
			return a, nil
		}
	}
	return history.Attempt{}, history.ErrNotFound
}

type fakePreview struct {
	mu    sync.Mutex
	offer string
}

func (f *fakePreview) lastOffer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offer
}

func (f *fakePreview) HandleOffer(_ context.Context, offer string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offer = offer
	if offer == "bad" {
		return "", fmt.Errorf("invalid offer")
	}
	return "v=0 answer", nil
}

type testEnv struct {
	srv     *httptest.Server
	capture *fakeCapture
	prober  *fakeProber
	store   *fakeStore
	preview *fakePreview
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		capture: &fakeCapture{status: capture.Status{State: capture.StateIdle}},
		prober:  &fakeProber{caps: nvenc.Capabilities{HardwareAvailable: true, SupportsH264: true}},
		store:   &fakeStore{},
		preview: &fakePreview{},
	}
	opts := &Options{
		Capture:      env.capture,
		Capabilities: env.prober,
		Store:        env.store,
		History: &fakeHistory{attempts: []history.Attempt{
			{ID: 2, Attempt: 2, Outcome: history.OutcomeFailed},
			{ID: 1, Attempt: 1, Outcome: history.OutcomeCompleted, Frames: 120},
		}},
		Preview: env.preview,
		Settings: func() settings.Settings {
			s := settings.Default()
			s.OutputDirectory = "/srv/captures"
			return s
		},
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "omnicapture_capture_frames 0\n")
		}),
	}
	if mutate != nil {
		mutate(opts)
	}
	env.srv = httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, body)["status"]; got != "ok" {
		t.Errorf("health = %q", got)
	}

	resp, body = env.do(t, http.MethodGet, "/api/version", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("version status = %d", resp.StatusCode)
	}
	if got := decode[map[string]string](t, body)["version"]; got == "" {
		t.Error("empty version")
	}
}

func TestCaptureStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.capture.set(func(f *fakeCapture) {
		f.status = capture.Status{
			State:     capture.StateRecording,
			Capturing: true,
			Frames:    42,
			Warnings:  []string{capture.WarningLowDisk},
			Summary:   "Recording | Frames:42",
		}
	})

	resp, body := env.do(t, http.MethodGet, "/api/capture", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	st := decode[capture.Status](t, body)
	if st.State != capture.StateRecording || st.Frames != 42 {
		t.Errorf("status = %+v", st)
	}
	if len(st.Warnings) != 1 || st.Warnings[0] != capture.WarningLowDisk {
		t.Errorf("warnings = %v", st.Warnings)
	}
}

func TestCaptureLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/capture/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start = %d: %s", resp.StatusCode, body)
	}
	began, _ := env.capture.calls()
	if got := began[0].OutputDirectory; got != "/srv/captures" {
		t.Errorf("OutputDirectory = %q, want configured value", got)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/capture/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start = %d, want 409", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/api/capture/pause", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause = %d: %s", resp.StatusCode, body)
	}
	if st := decode[capture.Status](t, body); st.State != capture.StatePaused {
		t.Errorf("state after pause = %s", st.State)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/capture/resume", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("resume = %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, "/api/capture/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop = %d: %s", resp.StatusCode, body)
	}
	if _, ends := env.capture.calls(); len(ends) != 1 || !ends[0] {
		t.Errorf("End calls = %v, want [true]", ends)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/capture/stop", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("stop while idle = %d, want 409", resp.StatusCode)
	}
}

func TestCaptureStartOverrides(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/capture/start",
		`{"outputFormat":"NVENCHardware","codec":"H264","resolution":2048,"recordAudio":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start = %d: %s", resp.StatusCode, body)
	}
	began, _ := env.capture.calls()
	got := began[0]
	if got.OutputFormat != settings.OutputNVENC || got.Codec != settings.CodecH264 {
		t.Errorf("format/codec = %s/%s", got.OutputFormat, got.Codec)
	}
	if got.Resolution != 2048 || got.RecordAudio {
		t.Errorf("resolution=%d recordAudio=%v", got.Resolution, got.RecordAudio)
	}
	if got.OutputDirectory != "/srv/captures" {
		t.Errorf("unrelated field changed: %q", got.OutputDirectory)
	}
}

func TestCaptureStopWithoutFinalize(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/capture/start", "")

	resp, body := env.do(t, http.MethodPost, "/api/capture/stop?finalize=false", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop = %d: %s", resp.StatusCode, body)
	}
	if _, ends := env.capture.calls(); len(ends) != 1 || ends[0] {
		t.Errorf("End calls = %v, want [false]", ends)
	}
}

func TestCaptureStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"step failure", &capture.StepError{Step: capture.StepBegin, Reason: "Invalid capture resolution (0).", Err: settings.ErrInvalidResolution}, http.StatusUnprocessableEntity},
		{"hardware unavailable", &capture.StepError{Step: capture.StepFallback, Reason: "no NVENC", Err: capture.ErrHardwareUnavailable}, http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.capture.set(func(f *fakeCapture) { f.beginErr = tt.err })

			resp, body := env.do(t, http.MethodPost, "/api/capture/start", "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestDiagnosticsAndWarnings(t *testing.T) {
	env := newTestEnv(t, nil)
	const lastError = "Invalid capture resolution (0)."
	env.capture.set(func(f *fakeCapture) {
		f.diags = []capture.Diagnostic{{Step: capture.StepBegin, Level: capture.LevelInfo, Message: "Capture request received (Attempt #1)."}}
		f.lastError = lastError
	})

	resp, body := env.do(t, http.MethodGet, "/api/capture/diagnostics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("diagnostics = %d", resp.StatusCode)
	}
	d := decode[struct {
		Diagnostics []capture.Diagnostic `json:"diagnostics"`
		LastError   string               `json:"lastError"`
	}](t, body)
	if len(d.Diagnostics) != 1 || d.LastError != lastError {
		t.Errorf("diagnostics = %+v", d)
	}

	_, body = env.do(t, http.MethodGet, "/api/capture/warnings", "")
	w := decode[struct {
		Warnings []string `json:"warnings"`
	}](t, body)
	if w.Warnings == nil || len(w.Warnings) != 0 {
		t.Errorf("warnings = %#v, want empty list", w.Warnings)
	}
}

func TestCapabilities(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/capabilities", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capabilities = %d", resp.StatusCode)
	}
	first := decode[struct {
		Cached  bool   `json:"cached"`
		Summary string `json:"summary"`
	}](t, body)
	if queries, _ := env.prober.counts(); first.Cached || queries != 1 {
		t.Errorf("first call cached=%v queries=%d", first.Cached, queries)
	}

	_, body = env.do(t, http.MethodGet, "/api/capabilities", "")
	second := decode[struct {
		Cached bool `json:"cached"`
	}](t, body)
	if queries, _ := env.prober.counts(); !second.Cached || queries != 1 {
		t.Errorf("second call cached=%v queries=%d", second.Cached, queries)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/capabilities/refresh", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh = %d", resp.StatusCode)
	}
	if queries, invalidated := env.prober.counts(); invalidated != 1 || queries != 2 {
		t.Errorf("invalidated=%d queries=%d", invalidated, queries)
	}
	if saved := env.store.snapshot(); len(saved) != 1 || !saved[0].HardwareAvailable {
		t.Errorf("saved = %+v", saved)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/history?limit=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history = %d: %s", resp.StatusCode, body)
	}
	list := decode[struct {
		Attempts []history.Attempt `json:"attempts"`
		Count    int               `json:"count"`
	}](t, body)
	if list.Count != 1 || list.Attempts[0].ID != 2 {
		t.Errorf("list = %+v", list)
	}

	resp, body = env.do(t, http.MethodGet, "/api/history/1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d: %s", resp.StatusCode, body)
	}
	if a := decode[history.Attempt](t, body); a.Frames != 120 {
		t.Errorf("attempt = %+v", a)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/history/99", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing attempt = %d, want 404", resp.StatusCode)
	}
}

func TestPreviewOffer(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/preview/offer", `{"sdp":"v=0 offer"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("offer = %d: %s", resp.StatusCode, body)
	}
	if got := decode[map[string]string](t, body)["sdp"]; got != "v=0 answer" {
		t.Errorf("answer = %q", got)
	}
	if got := env.preview.lastOffer(); got != "v=0 offer" {
		t.Errorf("offer passed = %q", got)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/preview/offer", `{"sdp":"bad"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad offer = %d, want 400", resp.StatusCode)
	}
}

type fakeTally struct {
	mu  sync.Mutex
	set []string
}

func (f *fakeTally) Set(name string, enabled bool, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, fmt.Sprintf("%s %t %s", name, enabled, pattern))
	return nil
}

func (f *fakeTally) Available() []string { return []string{"tally"} }
func (f *fakeTally) Patterns() []string  { return []string{"solid", "blink", "heartbeat"} }

func (f *fakeTally) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.set...)
}

func TestTally(t *testing.T) {
	tally := &fakeTally{}
	env := newTestEnv(t, func(o *Options) { o.Tally = tally })

	resp, body := env.do(t, http.MethodGet, "/api/tally", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/tally = %d: %s", resp.StatusCode, body)
	}
	caps := decode[map[string][]string](t, body)
	if len(caps["available"]) != 1 || len(caps["patterns"]) != 3 {
		t.Errorf("capabilities = %v", caps)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"blink", `{"name":"tally","enabled":true,"pattern":"blink"}`, http.StatusNoContent},
		{"off", `{"name":"tally","enabled":false}`, http.StatusNoContent},
		{"unknown led", `{"name":"power","enabled":true}`, http.StatusBadRequest},
		{"unknown pattern", `{"name":"tally","enabled":true,"pattern":"strobe"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/tally", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("POST = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}

	want := []string{"tally true blink", "tally false "}
	if got := tally.calls(); !slices.Equal(got, want) {
		t.Errorf("Set calls = %q, want %q", got, want)
	}
}

func TestMissingServicesSkipRoutes(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.History = nil
		o.Preview = nil
	})

	resp, _ := env.do(t, http.MethodGet, "/api/history", "")
	if resp.StatusCode == http.StatusOK {
		t.Error("history route registered without a history service")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.AuthUsername, o.AuthPassword = "admin", "secret"
	})

	resp, body := env.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "omnicapture_capture_frames") {
		t.Errorf("metrics body = %s", body)
	}
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.AuthUsername, o.AuthPassword = "admin", "secret"
	})

	resp, _ := env.do(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health without auth = %d, want 200", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/capture", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without auth = %d, want 401", resp.StatusCode)
	}

	tests := []struct {
		name  string
		creds string
		want  int
	}{
		{"valid", "admin:secret", http.StatusOK},
		{"wrong password", "admin:nope", http.StatusUnauthorized},
		{"no colon", "admin", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/capture", nil)
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(tt.creds)))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	auth := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	resp, _ = env.do(t, http.MethodGet, "/api/capture?auth="+auth, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query auth = %d, want 200", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodOptions, "/api/capture/start", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSOriginAllowList(t *testing.T) {
	c := newCORSHeaders(CORSConfig{AllowOrigins: []string{"http://rig.local"}, MaxAge: 60})

	tests := []struct {
		origin string
		want   string
	}{
		{"http://rig.local", "http://rig.local"},
		{"http://elsewhere", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			h := http.Header{}
			c.write(h.Set, tt.origin)
			if got := h.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
			if tt.want != "" && h.Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want Origin", h.Get("Vary"))
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/api/health", "")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing generated X-Request-ID")
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "bench-7")
	echoed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	echoed.Body.Close()
	if got := echoed.Header.Get("X-Request-ID"); got != "bench-7" {
		t.Errorf("X-Request-ID = %q, want bench-7", got)
	}
}

func TestRequestLogLevel(t *testing.T) {
	tests := []struct {
		method string
		path   string
		status int
		want   slog.Level
	}{
		{http.MethodPost, "/api/capture/start", 204, slog.LevelInfo},
		{http.MethodGet, "/api/capture", 200, slog.LevelDebug},
		{http.MethodOptions, "/api/capture/stop", 204, slog.LevelDebug},
		{http.MethodGet, "/api/capture", 401, slog.LevelWarn},
		{http.MethodPost, "/api/capture/start", 500, slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLogLevel(tt.method, tt.path, tt.status); got != tt.want {
			t.Errorf("requestLogLevel(%s %s %d) = %v, want %v", tt.method, tt.path, tt.status, got, tt.want)
		}
	}
}

func TestLogStreamRequestMatches(t *testing.T) {
	tests := []struct {
		name   string
		req    LogStreamRequest
		module string
		level  string
		want   bool
	}{
		{"defaults pass all", LogStreamRequest{Level: "debug"}, "capture", "debug", true},
		{"module filter", LogStreamRequest{Module: "nvenc", Level: "debug"}, "capture", "error", false},
		{"below minimum", LogStreamRequest{Level: "warn"}, "capture", "info", false},
		{"at minimum", LogStreamRequest{Module: "capture", Level: "warn"}, "capture", "warn", true},
		{"above minimum", LogStreamRequest{Level: "warn"}, "muxer", "error", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.matches(tt.module, tt.level); got != tt.want {
				t.Errorf("matches(%q, %q) = %v, want %v", tt.module, tt.level, got, tt.want)
			}
		})
	}
}

func TestEventsStreamSendsCurrentState(t *testing.T) {
	env := newTestEnv(t, nil)
	env.capture.set(func(f *fakeCapture) {
		f.status = capture.Status{State: capture.StatePaused, Capturing: true, Attempt: 4}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), `"state":"Paused"`) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			t.Fatalf("stream ended before state event: %v\n%s", err, got.String())
		}
	}
	if !strings.Contains(got.String(), "event: capture-state-changed") {
		t.Errorf("missing event name:\n%s", got.String())
	}
}
