package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
)

// TallyRequest switches a tally LED by hand. The capture state takes it
// back over on the next state change.
type TallyRequest struct {
	Body struct {
		Name    string  `json:"name" example:"tally" doc:"LED name"`
		Enabled bool    `json:"enabled" example:"true" doc:"Whether the LED should be on or off"`
		Pattern *string `json:"pattern,omitempty" example:"blink" doc:"Optional LED pattern (solid, blink, heartbeat)"`
	}
}

// TallyCapabilitiesResponse lists the LEDs and patterns of the tally driver.
type TallyCapabilitiesResponse struct {
	Body struct {
		Available []string `json:"available" doc:"LED names this host can drive"`
		Patterns  []string `json:"patterns" doc:"Supported LED patterns"`
	}
}

// registerTallyRoutes registers tally light endpoints
func (s *Server) registerTallyRoutes() {
	if s.options.Tally == nil {
		s.logger.Debug("Tally light not configured, skipping tally routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "set-tally",
		Method:      http.MethodPost,
		Path:        "/api/tally",
		Summary:     "Set tally light",
		Description: "Override the tally LED until the next capture state change.",
		Tags:        []string{"tally"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *TallyRequest) (*struct{}, error) {
		if !slices.Contains(s.options.Tally.Available(), input.Body.Name) {
			return nil, huma.Error400BadRequest("unknown LED " + input.Body.Name)
		}
		pattern := ""
		if input.Body.Pattern != nil {
			pattern = *input.Body.Pattern
			if !slices.Contains(s.options.Tally.Patterns(), pattern) {
				return nil, huma.Error400BadRequest("unsupported pattern " + pattern)
			}
		}

		if err := s.options.Tally.Set(input.Body.Name, input.Body.Enabled, pattern); err != nil {
			return nil, huma.Error400BadRequest("Failed to set tally light", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-tally-capabilities",
		Method:      http.MethodGet,
		Path:        "/api/tally",
		Summary:     "Tally capabilities",
		Description: "List the tally LEDs and patterns available on this host",
		Tags:        []string{"tally"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*TallyCapabilitiesResponse, error) {
		resp := &TallyCapabilitiesResponse{}
		resp.Body.Available = s.options.Tally.Available()
		resp.Body.Patterns = s.options.Tally.Patterns()
		return resp, nil
	})
}
