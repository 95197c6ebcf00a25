package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/auth"
	"voice-platform/internal/callcontrol"
	"voice-platform/internal/calls"
	"voice-platform/internal/config"
	"voice-platform/internal/httpapi"
	"voice-platform/internal/ivr"
	"voice-platform/internal/reporting"
	"voice-platform/internal/routing"
	"voice-platform/internal/telephony"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Routing pipeline: Postgres rules/targets/logs, Redis agent liveness,
	// Redis emergency overrides ahead of rule evaluation.
	// Admin writes go through the cache so edits invalidate it immediately.
	ruleStore := routing.NewCachedRuleStore(routing.NewPostgresRuleStore(db), cfg.Routing.RuleCacheTTL)
	targetStore := routing.NewPostgresTargetStore(db)
	logStore := routing.NewPostgresLogStore(db)

	engine := routing.NewEngine(ruleStore, targetStore, logStore, routing.NewSelector(agents.NewRedisProvider(rdb)))
	engine.FallbackDestination = cfg.Routing.FallbackDestination
	engine.Overrides = routing.NewOverrideEngine(routing.NewRedisOverrideStore(rdb), logStore)

	// IVR: flow definitions and aggregates in Postgres, live sessions in Redis.
	flowStore := ivr.NewPostgresFlowStore(db)
	interpreter := ivr.NewInterpreter(flowStore, ivr.NewRedisSessionStore(rdb, cfg.IVR.SessionTTL))

	registry := calls.NewRegistry(calls.NewPostgresStore(db))
	controller := callcontrol.NewController(engine, interpreter, registry)
	controller.Slots = agents.NewCallSlots(rdb)

	provider := telephony.NewTwilioProvider(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL)
	numbers := telephony.NewPostgresNumberStore(db)

	webhooks := telephony.TwilioWebhookHandler{
		Controller: controller,
		Paths:      telephony.DefaultWebhookPaths(),
		Validate:   provider.ValidateWebhook,
		Resolver: func(c *gin.Context, toNumber string) (telephony.NumberRoute, error) {
			return numbers.Resolve(c.Request.Context(), toNumber)
		},
	}

	api := httpapi.Handlers{
		Auth:     authManager,
		Rules:    ruleStore,
		Targets:  targetStore,
		Logs:     logStore,
		Flows:    ivr.NewFlowService(flowStore),
		Registry: registry,
		Reports:  reporting.NewService(reporting.NewPostgresRepo(db)),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	healthz := func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}

	registerRoutes(r, webhooks, api, auth.RequireAccessToken(authManager), healthz)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
