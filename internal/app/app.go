package app

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/mwire-gateway/internal/audit"
	"github.com/noah-isme/mwire-gateway/internal/config"
	"github.com/noah-isme/mwire-gateway/internal/health"
	"github.com/noah-isme/mwire-gateway/internal/lock"
	"github.com/noah-isme/mwire-gateway/internal/obs"
	"github.com/noah-isme/mwire-gateway/internal/order"
	"github.com/noah-isme/mwire-gateway/internal/payment"
	"github.com/noah-isme/mwire-gateway/internal/ratelimit"
	"github.com/noah-isme/mwire-gateway/internal/resilience"
	"github.com/noah-isme/mwire-gateway/internal/security"
	"github.com/noah-isme/mwire-gateway/internal/token"
)

// Dependencies enumerates the resources the gateway is assembled from.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  order.Store
	Redis  *redis.Client
	// Checker backs the readiness probe.
	Checker health.Checker
	// Processor overrides the mWire client, mainly for tests.
	Processor payment.Processor
	// Audit persists operator and backend actions; nil disables the trail.
	Audit audit.Store

	HTTPMetrics    *obs.HTTPMetrics
	MetricsHandler http.Handler
	Tracing        bool
}

// App is the assembled gateway.
type App struct {
	Gateway    *payment.Gateway
	Reconciler *payment.Reconciler
	Updater    *payment.StatusUpdater
	Router     http.Handler
}

// New wires the payment components and the HTTP router.
func New(deps Dependencies) (*App, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if deps.Store == nil {
		return nil, errors.New("app: order store is required")
	}
	logger := deps.Logger

	codec, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}

	processor := deps.Processor
	if processor == nil {
		breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithTarget("mwire_api").
			WithLogger(logger)
		processor = payment.NewMWire(payment.MWireConfig{
			BaseURL: cfg.ProcessorBaseURL,
			Timeout: cfg.ProcessorTimeout,
			Breaker: breaker,
			Logger:  logger.With().Str("component", "mwire").Logger(),
			Debug:   cfg.Debug,
		})
	}

	creds := payment.Credentials{
		MerchantID: cfg.MerchantID,
		APIID:      cfg.APIID,
		APIKey:     cfg.APIKey,
		ReceiverID: cfg.ReceiverID,
	}
	initiator := &payment.Initiator{
		Store:         deps.Store,
		Processor:     processor,
		Codec:         codec,
		Credentials:   creds,
		ReturnURLBase: cfg.ReturnURLBase,
		TokenTTL:      cfg.TokenTTL,
		Logger:        logger.With().Str("component", "initiator").Logger(),
	}
	reconciler := &payment.Reconciler{
		Store:     deps.Store,
		Codec:     codec,
		Issuer:    cfg.APIID,
		Tolerance: decimal.NewNullDecimal(cfg.AmountTolerance),
		ReplayTTL: cfg.IPNReplayTTL,
		LockTTL:   cfg.IPNLockTTL,
		Logger:    logger.With().Str("component", "reconciler").Logger(),
	}
	if deps.Redis != nil {
		reconciler.Replay = payment.RedisReplayGuard{Client: deps.Redis}
		reconciler.Locker = lock.Locker{R: deps.Redis, RetryBackoff: 25 * time.Millisecond, MaxWait: cfg.IPNLockTTL}
	}

	adminKey := security.AdminKey{Plain: cfg.AdminAPIKey, Hash: cfg.AdminAPIKeyHash}
	updater := &payment.StatusUpdater{
		Store:      deps.Store,
		MerchantID: cfg.MerchantID,
		AdminKey:   adminKey,
		Logger:     logger.With().Str("component", "status_update").Logger(),
	}
	gateway := &payment.Gateway{
		Availability: payment.Availability{
			Enabled:    cfg.GatewayEnabled,
			Minimum:    cfg.MinimumOrderTotal,
			Currencies: cfg.AllowedCurrencies,
			Countries:  cfg.AllowedCountries,
		},
		Initiator:   initiator,
		Processor:   processor,
		Reconciler:  reconciler,
		AdminKeySet: adminKey.Configured(),
		Debug:       cfg.Debug,
		Logger:      logger.With().Str("component", "gateway").Logger(),
	}

	limiter, err := newLimiter(cfg, deps.Redis)
	if err != nil {
		return nil, err
	}

	auditRecorder := audit.HTTPRecorder{
		Service: &audit.Service{
			Store:        deps.Audit,
			Enabled:      deps.Audit != nil && cfg.AuditEnabled,
			SamplingRate: cfg.AuditSamplingRate,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("audit_record_failed") },
	}

	router := newRouter(routes{
		cfg:            cfg,
		logger:         logger,
		redis:          deps.Redis,
		checker:        deps.Checker,
		limiter:        limiter,
		adminKey:       adminKey,
		httpMetrics:    deps.HTTPMetrics,
		metricsHandler: deps.MetricsHandler,
		tracing:        deps.Tracing,
		audit:          auditRecorder,
		auditLogs:      audit.Handler{Store: deps.Audit},
		gateway:        &payment.GatewayHandler{Gateway: gateway, Store: deps.Store, Logger: logger},
		ipn:            payment.IPNHandler{Reconciler: reconciler},
		statusUpdate:   payment.StatusUpdateHandler{Updater: updater},
		orders:         &order.Handler{Store: deps.Store},
		orderAdmin:     &order.AdminHandler{Store: deps.Store, Logger: logger},
	})

	return &App{Gateway: gateway, Reconciler: reconciler, Updater: updater, Router: router}, nil
}

func newCodec(cfg *config.Config) (*token.Codec, error) {
	allowed, err := token.ParseAlgorithms(cfg.TokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("parse token algorithms: %w", err)
	}
	var codec *token.Codec
	if len(allowed) == 0 {
		codec = token.NewCodec([]byte(cfg.SigningSecret), "")
	} else {
		codec = token.NewCodec([]byte(cfg.SigningSecret), allowed[0], allowed...)
	}
	codec.Skew = cfg.TokenSkew
	return codec, nil
}

func newLimiter(cfg *config.Config, client *redis.Client) (ratelimit.Allower, error) {
	if client == nil {
		return nil, nil
	}
	if cfg.RateLimitBackend == "fixed" {
		fw, err := ratelimit.NewFixedWindow(client, "mwire:rl:fixed")
		if err != nil {
			return nil, fmt.Errorf("init fixed window limiter: %w", err)
		}
		return fw, nil
	}
	return ratelimit.SlidingWindow{Client: client, Prefix: "mwire:rl"}, nil
}
