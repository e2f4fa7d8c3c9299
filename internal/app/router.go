package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mwire-gateway/internal/audit"
	"github.com/noah-isme/mwire-gateway/internal/common"
	"github.com/noah-isme/mwire-gateway/internal/config"
	"github.com/noah-isme/mwire-gateway/internal/health"
	"github.com/noah-isme/mwire-gateway/internal/obs"
	"github.com/noah-isme/mwire-gateway/internal/order"
	"github.com/noah-isme/mwire-gateway/internal/payment"
	"github.com/noah-isme/mwire-gateway/internal/ratelimit"
	"github.com/noah-isme/mwire-gateway/internal/security"
)

// StatusUpdatePaths are served for the processor backend. The second path is
// the one the backend was originally configured with.
var StatusUpdatePaths = []string{
	"/api/v1/mwire/update-order-status",
	"/wp-json/mwire/v1/update-order-status",
}

type routes struct {
	cfg            *config.Config
	logger         zerolog.Logger
	redis          *redis.Client
	checker        health.Checker
	limiter        ratelimit.Allower
	adminKey       security.AdminKey
	httpMetrics    *obs.HTTPMetrics
	metricsHandler http.Handler
	tracing        bool
	audit          audit.HTTPRecorder
	auditLogs      audit.Handler

	gateway      *payment.GatewayHandler
	ipn          payment.IPNHandler
	statusUpdate payment.StatusUpdateHandler
	orders       *order.Handler
	orderAdmin   *order.AdminHandler
}

func newRouter(rt routes) http.Handler {
	cfg := rt.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rt.tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rt.httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: rt.httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rt.logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	if rt.metricsHandler != nil {
		r.Handle("/metrics", rt.metricsHandler)
	}
	healthHandler := health.Handler{Checker: rt.checker}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	bodyLimit := security.BodyLimit{Max: cfg.BodyLimitBytes}
	statusLimit := ratelimit.Handler{
		Limiter: rt.limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("status_update"),
			Window: cfg.StatusUpdateRateWindow,
			Max:    cfg.StatusUpdateRateLimit,
		},
		OnError: func(err error) {
			rt.logger.Error().Err(err).Msg("rate_limiter_unavailable")
		},
	}
	statusAudit := rt.audit.Middleware(audit.HTTPConfig{
		Action:       "order.status_update",
		ResourceType: "order",
		Actor:        audit.ActorKindBackend,
	})
	for _, path := range StatusUpdatePaths {
		r.With(bodyLimit.Middleware, statusLimit.Middleware, statusAudit).Post(path, rt.statusUpdate.Handle)
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/payments/methods/"+payment.MethodID, rt.gateway.Method)
		if rt.redis != nil {
			idem := common.Idem{R: rt.redis, TTL: cfg.IdempotencyTTL, Prefix: "mwire:idem:"}
			v.With(bodyLimit.Middleware, idem.Middleware).Post("/payments/agreements", rt.gateway.Initiate)
		} else {
			v.With(bodyLimit.Middleware).Post("/payments/agreements", rt.gateway.Initiate)
		}
		v.With(bodyLimit.Middleware).Post("/webhooks/mwire", rt.ipn.Handle)
		v.Get("/orders/{orderId}/egift", rt.orders.EGift)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(security.AdminAuth{
				Username: cfg.MerchantID,
				Key:      rt.adminKey,
				Logger:   rt.logger,
			}.Middleware)
			admin.With(rt.audit.Middleware(audit.HTTPConfig{Action: "gateway.view", ResourceType: "gateway"})).
				Get("/gateway", rt.gateway.Admin)
			admin.Get("/orders", rt.orderAdmin.List)
			admin.Get("/orders/{orderId}", rt.orderAdmin.Get)
			admin.With(rt.audit.Middleware(audit.HTTPConfig{Action: "order.hold", ResourceType: "order", ResourceIDParam: "orderId"})).
				Post("/orders/{orderId}/hold", rt.orderAdmin.Hold)
			admin.Get("/audit-logs", rt.auditLogs.List)
		})
	})
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
