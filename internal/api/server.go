package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"

	"github.com/smazurov/omnicapture/internal/api/models"
	"github.com/smazurov/omnicapture/internal/capture"
	"github.com/smazurov/omnicapture/internal/events"
	"github.com/smazurov/omnicapture/internal/history"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/settings"
	"github.com/smazurov/omnicapture/internal/version"
)

// CaptureService is the capture controller as seen by the API.
type CaptureService interface {
	Begin(ctx context.Context, s settings.Settings) error
	End(ctx context.Context, finalize bool) error
	Pause() error
	Resume() error
	Status() capture.Status
	Diagnostics() []capture.Diagnostic
	Warnings() []string
	LastError() string
}

// CapabilityService probes the hardware encoder.
type CapabilityService interface {
	Query(ctx context.Context) nvenc.Capabilities
	Cached() (nvenc.Capabilities, bool)
	Invalidate()
}

// CapabilityStore persists the latest probe.
type CapabilityStore interface {
	Save(caps nvenc.Capabilities) error
}

// HistoryService reads past capture attempts.
type HistoryService interface {
	List(ctx context.Context, limit int) ([]history.Attempt, error)
	Get(ctx context.Context, id int64) (history.Attempt, error)
}

// TallyService drives the tally LED.
type TallyService interface {
	Set(name string, enabled bool, pattern string) error
	Available() []string
	Patterns() []string
}

// PreviewService answers WebRTC preview offers.
type PreviewService interface {
	HandleOffer(ctx context.Context, offer string) (string, error)
}

// Options configures the API server. Nil services leave their routes
// unregistered.
type Options struct {
	AuthUsername string
	AuthPassword string

	Capture      CaptureService
	Capabilities CapabilityService
	Store        CapabilityStore
	History      HistoryService
	Preview      PreviewService
	Tally        TallyService
	EventBus     *events.Bus
	// Settings returns the capture settings a start request builds on.
	Settings func() settings.Settings

	PrometheusHandler http.Handler // Optional Prometheus metrics handler
}

// Server is the Huma control API.
type Server struct {
	api        huma.API
	router     *mux.Router
	httpServer *http.Server
	options    *Options
	eventBus   *events.Bus
	logger     *slog.Logger
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		credentials, err := requestCredentials(ctx)
		if err != nil || credentials == "" {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="OmniCapture API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Authentication required")
			return
		}

		user, pass, ok := strings.Cut(credentials, ":")
		if !ok || user != username || pass != password {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="OmniCapture API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// requestCredentials reads "user:pass" from the Authorization header, or
// from the auth query parameter for EventSource clients.
func requestCredentials(ctx huma.Context) (string, error) {
	encoded := ""
	if header := ctx.Header("Authorization"); header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", nil
		}
		encoded = header[len(prefix):]
	} else {
		encoded = ctx.Query("auth")
	}
	if encoded == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// NewServer creates the API server on a gorilla/mux router.
func NewServer(opts *Options) *Server {
	router := mux.NewRouter()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(router, corsConfig)

	config := huma.DefaultConfig("OmniCapture API", version.String())
	config.Info.Description = "Control API for 360 and stereo capture with hardware encoding"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	bus := opts.EventBus
	if bus == nil {
		bus = events.New()
	}

	server := &Server{
		router:   router,
		options:  opts,
		eventBus: bus,
		logger:   logging.GetLogger("api"),
	}

	// Prometheus is served outside huma so it stays unauthenticated.
	if opts.PrometheusHandler != nil {
		router.Handle("/metrics", opts.PrometheusHandler).Methods(http.MethodGet)
	}

	server.api = humamux.New(router, config)
	server.api.UseMiddleware(NewCORSMiddleware(corsConfig))
	server.api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		server.api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting OmniCapture API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down, waiting for in-flight requests until ctx is
// done. SSE streams end when their request context is cancelled.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				Modified:  info.Modified,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerCaptureRoutes()
	s.registerCapabilityRoutes()
	s.registerHistoryRoutes()
	s.registerPreviewRoutes()
	s.registerTallyRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerStatsRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
