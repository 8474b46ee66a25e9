package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/omnicapture/internal/api/models"
	"github.com/smazurov/omnicapture/internal/capture"
	"github.com/smazurov/omnicapture/internal/settings"
)

// captureError maps controller errors onto HTTP problems.
func captureError(err error) error {
	var stepErr *capture.StepError
	switch {
	case errors.Is(err, capture.ErrAlreadyCapturing), errors.Is(err, capture.ErrNotCapturing):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, capture.ErrHardwareUnavailable):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.As(err, &stepErr):
		return huma.Error422UnprocessableEntity("Capture failed at step "+stepErr.Step+": "+stepErr.Reason, err)
	default:
		return huma.Error500InternalServerError("Capture operation failed", err)
	}
}

func (s *Server) statusResponse() *models.CaptureStatusResponse {
	return &models.CaptureStatusResponse{Body: s.options.Capture.Status()}
}

// registerCaptureRoutes registers capture control endpoints.
func (s *Server) registerCaptureRoutes() {
	if s.options.Capture == nil {
		s.logger.Debug("Capture service not available, skipping capture routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-status",
		Method:      http.MethodGet,
		Path:        "/api/capture",
		Summary:     "Capture Status",
		Description: "Current capture state, counters and active warnings",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.CaptureStatusResponse, error) {
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-capture",
		Method:      http.MethodPost,
		Path:        "/api/capture/start",
		Summary:     "Start Capture",
		Description: "Start a capture with the configured settings. The optional body overrides individual fields for this capture only.",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 422, 503},
	}, func(ctx context.Context, input *models.CaptureStartRequest) (*models.CaptureStatusResponse, error) {
		cfg := settings.Default()
		if s.options.Settings != nil {
			cfg = s.options.Settings()
		}
		input.Body.Apply(&cfg)

		if err := s.options.Capture.Begin(ctx, cfg); err != nil {
			return nil, captureError(err)
		}
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-capture",
		Method:      http.MethodPost,
		Path:        "/api/capture/stop",
		Summary:     "Stop Capture",
		Description: "Stop the running capture. With finalize the segments are muxed before the call returns.",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 409},
	}, func(ctx context.Context, input *models.CaptureStopRequest) (*models.CaptureStatusResponse, error) {
		// Finalization keeps running when the client goes away.
		if err := s.options.Capture.End(context.WithoutCancel(ctx), input.Finalize); err != nil {
			return nil, captureError(err)
		}
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "pause-capture",
		Method:      http.MethodPost,
		Path:        "/api/capture/pause",
		Summary:     "Pause Capture",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 409},
	}, func(ctx context.Context, _ *struct{}) (*models.CaptureStatusResponse, error) {
		if err := s.options.Capture.Pause(); err != nil {
			return nil, captureError(err)
		}
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "resume-capture",
		Method:      http.MethodPost,
		Path:        "/api/capture/resume",
		Summary:     "Resume Capture",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 409},
	}, func(ctx context.Context, _ *struct{}) (*models.CaptureStatusResponse, error) {
		if err := s.options.Capture.Resume(); err != nil {
			return nil, captureError(err)
		}
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-diagnostics",
		Method:      http.MethodGet,
		Path:        "/api/capture/diagnostics",
		Summary:     "Capture Diagnostics",
		Description: "Diagnostics log of the current or most recent attempt",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.DiagnosticsResponse, error) {
		diags := s.options.Capture.Diagnostics()
		if diags == nil {
			diags = []capture.Diagnostic{}
		}
		return &models.DiagnosticsResponse{
			Body: models.DiagnosticsData{
				Diagnostics: diags,
				LastError:   s.options.Capture.LastError(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-warnings",
		Method:      http.MethodGet,
		Path:        "/api/capture/warnings",
		Summary:     "Capture Warnings",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.WarningsResponse, error) {
		warnings := s.options.Capture.Warnings()
		if warnings == nil {
			warnings = []string{}
		}
		return &models.WarningsResponse{Body: models.WarningsData{Warnings: warnings}}, nil
	})
}
