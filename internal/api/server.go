package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	wmcqrs "github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/handlers"
	"github.com/danghamo/haulnav/internal/api/middleware"
	"github.com/danghamo/haulnav/internal/app/handler"
	"github.com/danghamo/haulnav/internal/app/service"
	"github.com/danghamo/haulnav/internal/cqrs"
	cqrshandlers "github.com/danghamo/haulnav/internal/cqrs/handlers"
	"github.com/danghamo/haulnav/internal/directions"
	"github.com/danghamo/haulnav/internal/domain/account"
	"github.com/danghamo/haulnav/internal/domain/deal"
	"github.com/danghamo/haulnav/internal/tracking"
	"github.com/danghamo/haulnav/pkg/autorouter"
	"github.com/danghamo/haulnav/pkg/config"
	"github.com/danghamo/haulnav/pkg/logger"
	"github.com/danghamo/haulnav/pkg/redisx"
	"github.com/danghamo/haulnav/pkg/sse"
)

const apiPrefix = "/api/v1/"

// Server represents the HTTP server
type Server struct {
	cfg         *config.Config
	httpServer  *http.Server
	logger      *logger.Logger
	redisClient *redisx.Client
	mux         *http.ServeMux

	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
	sseBroadcaster *sse.SSEBroadcaster
	deviceStream   *handlers.DeviceStream

	navigation  *service.NavigationService
	broadcaster *service.LiveBroadcaster
	recorder    *tracking.AsyncRecorder

	// Watermill CQRS components
	eventBus       *wmcqrs.EventBus
	eventProcessor *wmcqrs.EventProcessor
	router         *message.Router
}

// serverStats feeds server.Info
type serverStats struct {
	navigation *service.NavigationService
	sse        *sse.SSEBroadcaster
}

func (s serverStats) ActiveNavigations() int { return s.navigation.Active() }
func (s serverStats) ConnectedClients() int  { return s.sse.GetClientCount() }

// NewServer wires repositories, the event bus, the navigation service and
// the HTTP routes
func NewServer(cfg *config.Config, log *logger.Logger, redisClient *redisx.Client) (*Server, error) {
	apiLogger := log.WithComponent("api")
	wmLogger := cqrs.NewWatermillLogger(log)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient.Client,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	// every instance consumes every event so SSE reaches users on any server
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        redisClient.Client,
			ConsumerGroup: cqrs.ServerConsumerGroup(cfg.Redis.Streams.ConsumerGroup),
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 5 * time.Second,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	eventBus, err := cqrs.NewEventBus(publisher, cfg.Redis.Streams.TopicPrefix, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	eventProcessor, err := cqrs.NewEventProcessor(router, subscriber, cfg.Redis.Streams.TopicPrefix, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	// Repositories and stores
	dealRepo := deal.NewRedisRepository(redisClient.Client)
	accountRepo := account.NewRedisRepository(redisClient.Client)
	trackStore := tracking.NewRedisStore(redisClient, cfg.Tracking.StreamMaxLen, cfg.Tracking.LastPositionTTL, eventBus)
	recorder := tracking.NewAsyncRecorder(trackStore, log, tracking.RecorderOptions{
		WriteTimeout: cfg.Tracking.WriteTimeout,
		MinInterval:  cfg.Tracking.MinInterval,
	})

	// Application handlers
	commands := handler.NewDealCommandHandler(dealRepo, eventBus, log)
	queries := handler.NewDealQueryHandler(dealRepo, trackStore)

	fetcher, err := newDirectionsClient(cfg, log)
	if err != nil {
		return nil, err
	}

	notifier := cqrs.NewSSEBroadcastHelper(eventBus)
	broadcaster := service.NewLiveBroadcaster(log, redisClient.Client, trackStore, notifier,
		cfg.Tracking.HeartbeatInterval, cfg.Tracking.StaleAfter)

	navigation, err := service.NewNavigationService(dealRepo, commands, fetcher, recorder, notifier, broadcaster,
		service.NavigationOptions{
			Locale:       cfg.Navigation.Locale,
			FollowMode:   cfg.Navigation.FollowMode,
			TravelMode:   directions.ParseTravelMode(cfg.Directions.TravelMode),
			Alternatives: cfg.Directions.Alternatives,
			Language:     cfg.Directions.Language,
		}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create navigation service: %w", err)
	}

	sseBroadcaster := sse.NewSSEBroadcaster(apiLogger)
	sseEventHandler := cqrshandlers.NewSSEEventHandler(sseBroadcaster, apiLogger)
	dealEventHandler := cqrshandlers.NewDealEventHandler(navigation, apiLogger)

	err = eventProcessor.AddHandlers(
		wmcqrs.NewEventHandler("SSENotificationEvent", sseEventHandler.HandleSSENotificationEvent),
		wmcqrs.NewEventHandler("PositionRecordedEvent", sseEventHandler.HandlePositionRecordedEvent),
		wmcqrs.NewEventHandler("DealStatusChangedEvent", sseEventHandler.HandleDealStatusChangedEvent),
		wmcqrs.NewEventHandler("DealCancelledEvent", dealEventHandler.HandleDealCancelledEvent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register event handlers: %w", err)
	}

	jwtService := account.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTExpiration)
	rateLimiter := middleware.NewRateLimiter(apiLogger, cfg.Server.PositionRateLimit, cfg.Server.PositionBurst)

	mux := http.NewServeMux()
	server := &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.GetServerAddr(),
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		logger:         apiLogger,
		redisClient:    redisClient,
		mux:            mux,
		authMiddleware: middleware.NewAuthMiddleware(jwtService, apiLogger),
		rateLimiter:    rateLimiter,
		sseBroadcaster: sseBroadcaster,
		navigation:     navigation,
		broadcaster:    broadcaster,
		recorder:       recorder,
		eventBus:       eventBus,
		eventProcessor: eventProcessor,
		router:         router,
	}

	server.deviceStream = handlers.NewDeviceStream(apiLogger, navigation, rateLimiter, cfg.CORS.AllowedOrigins)

	if err := server.setupRoutes(
		handlers.NewAuthHandler(apiLogger, accountRepo, jwtService, !cfg.Server.IsProduction()),
		handlers.NewServerHandler(cfg.Server.Environment, serverStats{navigation: navigation, sse: sseBroadcaster}),
		handlers.NewDealHandler(apiLogger, commands, queries),
		handlers.NewNavigationHandler(apiLogger, navigation),
		handlers.NewTrackingHandler(apiLogger, queries),
	); err != nil {
		return nil, err
	}
	server.setupMiddleware()

	return server, nil
}

// newDirectionsClient builds the routing backend selected in config
func newDirectionsClient(cfg *config.Config, log *logger.Logger) (*directions.Client, error) {
	httpClient := &http.Client{Timeout: cfg.Directions.Timeout}

	var provider directions.Provider
	switch cfg.Directions.Provider {
	case "valhalla":
		provider = directions.NewValhalla(cfg.Directions.ValhallaURL, httpClient)
	case "osrm":
		provider = directions.NewOSRM(cfg.Directions.OSRMURL, httpClient)
	default:
		return nil, fmt.Errorf("unknown directions provider %q", cfg.Directions.Provider)
	}

	var geocoder directions.Geocoder
	if cfg.Geocoder.NominatimURL != "" {
		geocoder = directions.NewNominatim(
			cfg.Geocoder.NominatimURL,
			cfg.Geocoder.UserAgent,
			cfg.Directions.Language,
			&http.Client{Timeout: cfg.Geocoder.Timeout},
		)
	}

	return directions.NewClient(provider, geocoder, log), nil
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes(
	auth *handlers.AuthHandler,
	server *handlers.ServerHandler,
	deals *handlers.DealHandler,
	navigation *handlers.NavigationHandler,
	tracks *handlers.TrackingHandler,
) error {
	s.mux.HandleFunc("GET "+s.cfg.Server.HealthCheckPath, s.healthCheckHandler)
	s.mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	rt := autorouter.New(s.mux, apiPrefix)
	requireAuth := s.authMiddleware.RequireAuth

	registrations := []struct {
		namespace string
		handler   any
		extra     []autorouter.Middleware
	}{
		{"auth", auth, nil},
		{"server", server, nil},
		{"deal", deals, []autorouter.Middleware{requireAuth}},
		// position reports arrive several times per second per carrier
		{"navigation", navigation, []autorouter.Middleware{requireAuth, s.rateLimiter.Middleware()}},
		{"tracking", tracks, []autorouter.Middleware{requireAuth}},
	}
	for _, reg := range registrations {
		if _, err := rt.Register(reg.namespace, reg.handler, reg.extra...); err != nil {
			return err
		}
	}

	s.mux.HandleFunc("POST "+apiPrefix+"ping", server.Ping)

	// Streams authenticate with a query token since browsers cannot set headers on them
	s.mux.Handle("GET "+apiPrefix+"stream/events", s.authMiddleware.RequireStreamAuth(http.HandlerFunc(s.sseBroadcaster.HandleSSE)))
	s.mux.Handle("GET "+apiPrefix+"stream/device", s.authMiddleware.RequireStreamAuth(s.deviceStream))

	for _, route := range rt.Routes() {
		s.logger.Debug("Registered route",
			zap.String("path", route.Path),
			zap.Bool("protected", route.Protected))
	}
	s.logger.Info("Routes registered", zap.Int("count", len(rt.Routes())))
	return nil
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware() {
	middlewareChain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.ErrorAdapter(s.logger),
		middleware.CORS(s.cfg.CORS),
		middleware.Logging(s.logger),
	)

	s.httpServer.Handler = middlewareChain(s.mux)
}

// Start runs the event router, the background workers and the HTTP server
// until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr))

	go func() {
		if err := s.router.Run(ctx); err != nil {
			s.logger.Error("Watermill router error", zap.Error(err))
		}
	}()

	s.broadcaster.Start(ctx)
	go s.rateLimiter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		_ = s.Shutdown()
		return err
	}

	return s.Shutdown()
}

// Shutdown stops navigation first so final notifications still reach the
// bus, then closes client connections, HTTP and the event router
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	s.navigation.Shutdown()
	s.broadcaster.Stop()
	s.recorder.Wait()

	if s.sseBroadcaster != nil {
		s.logger.Debug("Closing SSE broadcaster")
		s.sseBroadcaster.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}

	if s.router != nil {
		s.logger.Info("Closing Watermill router")
		if err := s.router.Close(); err != nil {
			s.logger.Error("Router shutdown error", zap.Error(err))
			return err
		}
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status            string                 `json:"status"`
	Checks            map[string]healthCheck `json:"checks"`
	ActiveNavigations int                    `json:"active_navigations"`
}

// healthCheckHandler reports Redis reachability
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:            "healthy",
		Checks:            map[string]healthCheck{"redis": {Status: "up"}},
		ActiveNavigations: s.navigation.Active(),
	}
	status := http.StatusOK

	if err := s.redisClient.HealthCheck(r.Context()); err != nil {
		s.logger.Error("Redis health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Checks["redis"] = healthCheck{Status: "down", Error: err.Error()}
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
