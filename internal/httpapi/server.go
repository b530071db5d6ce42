// Package httpapi exposes the booking core to the member-facing UI over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/movewan/merryhere-sub000/pkg/booking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	claimsContextKey      = "auth_claims"
	tracerName            = "github.com/movewan/merryhere-sub000/internal/httpapi"
	shutdownGracePeriod   = 5 * time.Second
	defaultRequestTimeout = 5 * time.Second
	defaultAdminRole      = "admin"
)

// Config carries the HTTP-specific settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	AdminRole      string
	RequestTimeout time.Duration
}

// Notifier receives booking lifecycle events after they commit.
type Notifier interface {
	BookingReserved(ctx context.Context, record booking.Booking)
	BookingCancelled(ctx context.Context, record booking.Booking)
}

// Dependencies are the collaborators of Handler.
type Dependencies struct {
	Manager  *booking.Manager
	Query    *booking.Query
	Notifier Notifier
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Now      func() int64
}

// Handler serves the HTTP routes.
type Handler struct {
	cfg      Config
	manager  *booking.Manager
	query    *booking.Query
	notifier Notifier
	logger   *zap.Logger
	nowFn    func() int64
	tracer   trace.Tracer
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

type noopNotifier struct{}

func (noopNotifier) BookingReserved(context.Context, booking.Booking)  {}
func (noopNotifier) BookingCancelled(context.Context, booking.Booking) {}

// NewHandler validates dependencies and registers the request metrics.
func NewHandler(cfg Config, deps Dependencies) (*Handler, error) {
	if deps.Manager == nil || deps.Query == nil {
		return nil, errors.New("httpapi: manager and query are required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = defaultAdminRole
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	now := deps.Now
	if now == nil {
		now = func() int64 { return time.Now().UTC().Unix() }
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	requests := promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "merryhere",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})
	return &Handler{
		cfg:      cfg,
		manager:  deps.Manager,
		query:    deps.Query,
		notifier: notifier,
		logger:   logger,
		nowFn:    now,
		tracer:   otel.Tracer(tracerName),
		registry: registry,
		requests: requests,
	}, nil
}

// NewRouter builds the gin engine. The validator guards every /api route.
func NewRouter(handler *Handler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.observe())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     handler.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(handler.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/rooms", handler.handleListRooms)
	api.GET("/rooms/:roomID/occupancy", handler.handleOccupancy)
	api.POST("/bookings", handler.handleReserve)
	api.POST("/bookings/:bookingID/cancel", handler.handleCancel)
	api.GET("/bookings/mine", handler.handleMyBookings)
	api.GET("/transactions/mine", handler.handleMyTransactions)
	api.GET("/balance", handler.handleBalance)

	admin := api.Group("/admin")
	admin.Use(handler.requireRole())
	admin.GET("/rooms", handler.handleAdminListRooms)
	admin.PUT("/rooms/:roomID", handler.handlePutRoom)
	admin.POST("/accounts/:accountID/adjustments", handler.handleAdjust)

	return router
}

// Run serves router until ctx is cancelled.
func Run(ctx context.Context, cfg Config, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	}
}

// observe opens a span per request and counts the response status.
func (handler *Handler) observe() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		spanCtx, span := handler.tracer.Start(ctx.Request.Context(), ctx.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", ctx.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()
		ctx.Request = ctx.Request.WithContext(spanCtx)

		ctx.Next()

		statusCode := ctx.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
		if statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(statusCode))
		}
		handler.requests.WithLabelValues(ctx.Request.Method, route, fmt.Sprintf("%d", statusCode)).Inc()
	}
}

func (handler *Handler) requireRole() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "로그인이 필요합니다"))
			return
		}
		for _, role := range claims.GetUserRoles() {
			if role == handler.cfg.AdminRole {
				ctx.Next()
				return
			}
		}
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "관리자 권한이 필요합니다"))
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}
