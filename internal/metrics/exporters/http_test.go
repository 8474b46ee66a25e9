package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/omnicapture/internal/metrics"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	return w.Body.String()
}

func TestHTTPHandler(t *testing.T) {
	t.Cleanup(metrics.ResetCapture)
	metrics.SetCaptureStats(metrics.Stats{Frames: 42, FPS: 30})

	body := scrape(t, HTTPHandler())
	for _, want := range []string{
		"omnicapture_capture_frames 42",
		"omnicapture_capture_fps 30",
		`omnicapture_build_info{commit=`,
		"promhttp_metric_handler_requests_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestHTTPHandlerTwice(t *testing.T) {
	// A second handler reuses the registered build info and handler counters.
	first := scrape(t, HTTPHandler())
	second := scrape(t, HTTPHandler())
	if strings.Count(second, "omnicapture_build_info{") != 1 {
		t.Errorf("build info series duplicated:\n%s", second)
	}
	if first == "" {
		t.Error("empty scrape")
	}
}
