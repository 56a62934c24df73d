package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/collaborators"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/metrics"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/booking"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/dispatch"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/service/reconcile"
	"github.com/cloud-gpu-shopper/cloud-gpu-shopper/internal/storage"
)

// Server is the dispatch engine's HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	// Storage
	bookings  *storage.BookingStore
	providers *storage.ProviderStore
	catalog   *storage.CatalogStore

	// Dispatch-core services
	dispatcher   *dispatch.OfferDispatcher
	arbitration  *dispatch.ArbitrationEngine
	stateMachine *booking.StateMachine
	reconciler   *reconcile.Reconciler

	// Collaborators
	geocoder collaborators.Geocoder

	// Configuration
	host       string
	port       int
	adminToken string

	// Readiness state, flipped once migrations and the startup
	// reconciliation sweep complete.
	ready atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHost sets the server host.
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithPort sets the server port.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithReconciler wires the reconciliation loop so /health can report it and
// the admin CLI can trigger a manual sweep through the same instance.
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(s *Server) { s.reconciler = r }
}

// WithAdminToken sets the operator token the admin route group requires.
// An empty token (the zero value) makes every admin request fail closed,
// since an empty Authorization header never matches it either.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// New creates the API server.
func New(
	bookings *storage.BookingStore,
	providers *storage.ProviderStore,
	catalog *storage.CatalogStore,
	dispatcher *dispatch.OfferDispatcher,
	arbitration *dispatch.ArbitrationEngine,
	stateMachine *booking.StateMachine,
	geocoder collaborators.Geocoder,
	opts ...Option,
) *Server {
	s := &Server{
		logger:       slog.Default(),
		bookings:     bookings,
		providers:    providers,
		catalog:      catalog,
		dispatcher:   dispatcher,
		arbitration:  arbitration,
		stateMachine: stateMachine,
		geocoder:     geocoder,
		host:         "0.0.0.0",
		port:         8080,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	return s
}

// SetReady sets the server readiness state.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("server readiness changed", slog.Bool("ready", ready))
}

// IsReady returns whether the server is ready to accept traffic.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// setupRouter configures the Gin router.
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(s.requestIDMiddleware())
	router.Use(s.metricsMiddleware())
	router.Use(s.bodySizeLimitMiddleware(1 << 20)) // 1MB limit
	router.Use(s.loggingMiddleware())
	router.Use(s.recoveryMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Catalog: public, read-only.
		v1.GET("/services", s.handleListServices)
		v1.GET("/categories", s.handleListCategories)

		// Customer-facing: requires an authenticated caller.
		customer := v1.Group("")
		customer.Use(s.authMiddleware())
		{
			customer.POST("/bookings", s.handleCreateBooking)
			customer.GET("/bookings", s.handleListMyBookings)
			customer.GET("/bookings/:id", s.handleGetMyBooking)
			customer.POST("/bookings/:id/cancel", s.handleCancelBooking)
			customer.POST("/bookings/:id/rating", s.handleRateBooking)
			customer.GET("/profile", s.handleGetMyProfile)
			customer.PUT("/profile", s.handleUpsertMyProfile)
		}

		// Provider-facing: requires an authenticated caller with a linked
		// provider profile (resolved per-handler via resolveProvider).
		provider := v1.Group("/provider")
		provider.Use(s.authMiddleware())
		{
			provider.POST("", s.handleRegisterProvider)
			provider.GET("/profile", s.handleGetMyProviderProfile)
			provider.PUT("/profile", s.handleUpdateMyProviderProfile)
			provider.GET("/bookings", s.handleListMyProviderBookings)
			provider.POST("/bookings/:id/start", s.handleStartWork)
			provider.POST("/bookings/:id/complete", s.handleCompleteWork)
			provider.GET("/services", s.handleListMyProviderServices)
			provider.POST("/services", s.handleLinkMyProviderService)
			provider.GET("/offers", s.handleListMyOffers)
			provider.POST("/offers/:id/accept", s.handleAcceptOffer)
			provider.POST("/offers/:id/decline", s.handleDeclineOffer)
		}

		// Admin: requires the operator token.
		admin := v1.Group("/admin")
		admin.Use(s.adminMiddleware())
		{
			admin.GET("/providers", s.handleAdminListProviders)
			admin.GET("/providers/:id", s.handleAdminGetProvider)
			admin.GET("/bookings", s.handleAdminListBookings)
			admin.GET("/bookings/:id", s.handleAdminGetBooking)
			admin.GET("/bookings/:id/offers", s.handleAdminListBookingOffers)
			admin.POST("/services", s.handleAdminCreateService)
			admin.GET("/stats", s.handleAdminStats)
			admin.POST("/reconcile", s.handleAdminReconcile)
		}
	}

	s.router = router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("starting API server", slog.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the Gin router (for testing).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Middleware

// validRequestIDRegex allows alphanumeric, dots, underscores, and hyphens up
// to 128 chars.
var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

func isValidRequestID(id string) bool {
	return id != "" && validRequestIDRegex.MatchString(id)
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if !isValidRequestID(requestID) {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		metrics.RecordHTTPRequest(method, path, status, duration)
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("request_id", c.GetString("request_id")),
			slog.String("client_ip", c.ClientIP()))
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := string(debug.Stack())
				s.logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("stack", stack),
					slog.String("request_id", c.GetString("request_id")))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error:     "internal server error",
					RequestID: c.GetString("request_id"),
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

func (s *Server) bodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// authMiddleware resolves the caller's identity. The identity collaborator
// (token issuance and signature verification) lives outside this service;
// the core only needs the already-verified subject, so the bearer token's
// value is trusted directly as the user id.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := bearerToken(c.GetHeader("Authorization"))
		if userID == "" {
			respondErrorMsg(c, http.StatusUnauthorized, "missing or malformed bearer token")
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// adminMiddleware gates the admin route group behind a distinct operator
// token supplied out of band (never the customer/provider bearer token).
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || token != s.adminToken {
			respondErrorMsg(c, http.StatusForbidden, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}
