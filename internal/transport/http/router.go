package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"posextract/internal/config"
	apierrors "posextract/internal/errors"
	"posextract/internal/middleware"
	"posextract/internal/websocket"
)

// RouterOptions carries the handlers mounted by NewRouter. Metrics, Hub
// and OTel are optional.
type RouterOptions struct {
	Jobs       *JobsHandler
	Health     *HealthHandler
	Metrics    http.Handler
	Hub        *websocket.Hub
	OTel       *middleware.OTelMiddleware
	ErrHandler *apierrors.ErrorHandler
	Logger     *slog.Logger
}

// NewRouter assembles the middleware chain and routes.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errHandler := opts.ErrHandler
	if errHandler == nil {
		errHandler = apierrors.NewErrorHandler(logger, false)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.OTel != nil {
		r.Use(opts.OTel.Handler)
	}
	r.Use(middleware.StructuredLogger(logger))
	r.Use(apierrors.RecoveryMiddleware(errHandler))
	r.Use(middleware.SecurityHeaders)

	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	if opts.Health != nil {
		r.Get(config.HealthEndpoint, opts.Health.HealthCheck)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, config.MetricsEndpoint, opts.Metrics)
	}
	if opts.Hub != nil {
		r.Get(config.WebSocketEndpoint, websocket.Handler(opts.Hub))
	}

	r.Route(config.APIBasePath, func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if opts.Jobs != nil {
			r.Mount("/jobs", opts.Jobs.Routes())
		}
	})
	return r
}
