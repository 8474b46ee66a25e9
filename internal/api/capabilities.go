package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/omnicapture/internal/api/models"
)

// registerCapabilityRoutes registers the encoder capability endpoints.
func (s *Server) registerCapabilityRoutes() {
	if s.options.Capabilities == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-capabilities",
		Method:      http.MethodGet,
		Path:        "/api/capabilities",
		Summary:     "Encoder Capabilities",
		Description: "Hardware encoder capabilities. Uses the cached probe when one exists.",
		Tags:        []string{"capabilities"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.CapabilitiesResponse, error) {
		caps, cached := s.options.Capabilities.Cached()
		if !cached {
			caps = s.options.Capabilities.Query(ctx)
		}
		return &models.CapabilitiesResponse{
			Body: models.CapabilitiesData{Capabilities: caps, Summary: caps.Summary(), Cached: cached},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "refresh-capabilities",
		Method:      http.MethodPost,
		Path:        "/api/capabilities/refresh",
		Summary:     "Refresh Capabilities",
		Description: "Drop the cached probe, probe the encoder again and persist the report",
		Tags:        []string{"capabilities"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.CapabilitiesResponse, error) {
		s.options.Capabilities.Invalidate()
		caps := s.options.Capabilities.Query(ctx)

		if s.options.Store != nil {
			if err := s.options.Store.Save(caps); err != nil {
				return nil, huma.Error500InternalServerError("Failed to save capability report", err)
			}
		}
		return &models.CapabilitiesResponse{
			Body: models.CapabilitiesData{Capabilities: caps, Summary: caps.Summary()},
		}, nil
	})
}
