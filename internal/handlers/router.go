package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazelcart/api/internal/platform/httpx"
)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// RouteRegistrar attaches a group of routes to the router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	prefix             string
	timeout            time.Duration
	middlewares        []func(http.Handler) http.Handler
	health             *HealthHandlers
	cartRoutes         []RouteRegistrar
	orderRoutes        []RouteRegistrar
	adminRoutes        []RouteRegistrar
	webhookRoutes      []RouteRegistrar
	webhookMiddlewares []func(http.Handler) http.Handler
	internalRoutes     []RouteRegistrar
}

// Option customises router construction.
type Option func(*routerConfig)

// WithMiddlewares appends global middlewares ahead of all routes.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers installs the health and readiness endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCartRoutes registers cart endpoints under the API prefix.
func WithCartRoutes(registrars ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.cartRoutes = append(cfg.cartRoutes, registrars...)
	}
}

// WithOrderRoutes registers order endpoints under the API prefix.
func WithOrderRoutes(registrars ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orderRoutes = append(cfg.orderRoutes, registrars...)
	}
}

// WithAdminRoutes registers operator endpoints under /admin.
func WithAdminRoutes(registrars ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.adminRoutes = append(cfg.adminRoutes, registrars...)
	}
}

// WithWebhookRoutes registers provider callback endpoints under /webhooks.
// Webhook routes live outside the API prefix and skip the default timeout
// middlewares that apply to interactive traffic.
func WithWebhookRoutes(registrars ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhookRoutes = append(cfg.webhookRoutes, registrars...)
	}
}

// WithWebhookMiddlewares appends middlewares applied only to webhook routes.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhookMiddlewares = append(cfg.webhookMiddlewares, mw...)
	}
}

// WithInternalRoutes registers maintenance endpoints under /internal.
func WithInternalRoutes(registrars ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.internalRoutes = append(cfg.internalRoutes, registrars...)
	}
}

// NewRouter assembles the HTTP surface: health probes at the root, versioned
// cart and order APIs, admin and internal groups, and provider webhooks.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		prefix:  defaultAPIPrefix,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "resource not found", http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method not allowed", http.StatusMethodNotAllowed))
	})

	if cfg.health != nil {
		r.Get("/healthz", cfg.health.Healthz)
		r.Get("/readyz", cfg.health.Readyz)
	}

	r.Route(cfg.prefix, func(api chi.Router) {
		mount(api, "/cart", nil, cfg.cartRoutes)
		mount(api, "/orders", nil, cfg.orderRoutes)
		mount(api, "/admin", nil, cfg.adminRoutes)
	})

	mount(r, "/webhooks", cfg.webhookMiddlewares, cfg.webhookRoutes)
	mount(r, "/internal", nil, cfg.internalRoutes)

	return r
}

func mount(parent chi.Router, pattern string, middlewares []func(http.Handler) http.Handler, registrars []RouteRegistrar) {
	if len(registrars) == 0 {
		return
	}
	parent.Route(pattern, func(group chi.Router) {
		for _, mw := range middlewares {
			if mw != nil {
				group.Use(mw)
			}
		}
		for _, register := range registrars {
			if register != nil {
				register(group)
			}
		}
	})
}
