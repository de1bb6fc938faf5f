package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/gorilla/websocket"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/broker"
	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/version"
)

const authRealm = `Basic realm="camnode API"`

// Server is the Huma v2 API server for camera control and frame access
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	cameras    *cameras.Manager
	eventBus   *events.Bus
	publisher  *events.Publisher
	broker     *broker.Switcher
	options    *Options
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// Options configures the API server
type Options struct {
	AuthUsername string
	AuthPassword string
	Cameras      *cameras.Manager
	EventBus     *events.Bus
	// Publisher and Broker back the broker routes; both may be nil.
	Publisher         *events.Publisher
	Broker            *broker.Switcher
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
	CORS              CORSConfig
	// Faults enables the /api/debug routes when set.
	Faults FaultInjector
}

// checkCredentials validates a basic auth header, or the base64 "auth"
// query parameter used by browser EventSource and WebSocket clients.
func checkCredentials(header, query, username, password string) (bool, string) {
	var encoded string
	switch {
	case header != "":
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return false, "Invalid authentication type"
		}
		encoded = header[len(prefix):]
	case query != "":
		encoded = query
	default:
		return false, "Authentication required"
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, "Invalid credentials format"
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false, "Invalid credentials format"
	}
	if user != username || pass != password {
		return false, "Invalid credentials"
	}
	return true, ""
}

func (s *Server) authEnabled() bool {
	return s.options.AuthUsername != "" && s.options.AuthPassword != ""
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(ctx huma.Context, next func(huma.Context)) {
	// Skip auth for operations without security requirements
	op := ctx.Operation()
	if op != nil && len(op.Security) == 0 {
		next(ctx)
		return
	}

	ok, msg := checkCredentials(ctx.Header("Authorization"), ctx.Query("auth"), s.options.AuthUsername, s.options.AuthPassword)
	if !ok {
		ctx.SetHeader("WWW-Authenticate", authRealm)
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
		return
	}
	next(ctx)
}

// authorize applies basic auth to plain net/http handlers.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if !s.authEnabled() {
		return true
	}
	ok, msg := checkCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth"), s.options.AuthUsername, s.options.AuthPassword)
	if !ok {
		w.Header().Set("WWW-Authenticate", authRealm)
		http.Error(w, msg, http.StatusUnauthorized)
	}
	return ok
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := opts.CORS
	if corsConfig.AllowOrigin == "" {
		corsConfig = DefaultCORSConfig()
	}
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camnode API", version.Get().Version)
	config.Info.Description = "Discovery, configuration and image acquisition for network cameras"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}

	server := &Server{
		api:       api,
		mux:       mux,
		cameras:   opts.Cameras,
		eventBus:  eventBus,
		publisher: opts.Publisher,
		broker:    opts.Broker,
		options:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return corsConfig.AllowOrigin == "*" },
		},
		logger: logging.GetLogger("api"),
	}

	// CORS first, then request logging, then auth
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if server.authEnabled() {
		api.UseMiddleware(server.basicAuthMiddleware)
	}

	// Prometheus scrapes without auth
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting camnode API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down. Open streams are closed immediately.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	// Health check endpoint - no auth required
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		n := 0
		if s.cameras != nil {
			n = len(s.cameras.Sessions())
		}
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
				Cameras: n,
			},
		}, nil
	})

	// Version endpoint - no auth required
	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		versionInfo := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   versionInfo.Version,
				GitCommit: versionInfo.GitCommit,
				BuildDate: versionInfo.BuildDate,
				GoVersion: versionInfo.GoVersion,
				Platform:  versionInfo.Platform,
			},
		}, nil
	})

	s.registerCameraRoutes()
	s.registerFrameRoutes()
	s.registerConfigRoutes()
	s.registerStreamRoute()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerBrokerRoutes()
	s.registerDebugRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
