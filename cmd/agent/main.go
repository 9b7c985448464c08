package main

import (
	"context"
	"crypto/rsa"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edgehunter/internal/agents"
	"edgehunter/internal/client/kalshi"
	"edgehunter/internal/client/llm"
	"edgehunter/internal/client/polymarket"
	"edgehunter/internal/client/tavily"
	"edgehunter/internal/config"
	cronrunner "edgehunter/internal/cron"
	"edgehunter/internal/db"
	"edgehunter/internal/handler"
	"edgehunter/internal/logger"
	gormrepository "edgehunter/internal/repository/gorm"
	"edgehunter/internal/service"
)

func main() {
	cfgPath := os.Getenv("AGENT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AGENT_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	var kalshiKey *rsa.PrivateKey
	if cfg.Kalshi.PrivateKeyPath != "" {
		kalshiKey, err = kalshi.LoadPrivateKey(cfg.Kalshi.PrivateKeyPath)
		if err != nil {
			logger.Warn("kalshi key load failed, trading disabled", zap.Error(err))
		}
	}
	kalshiClient := kalshi.NewClient(
		&http.Client{Timeout: cfg.Kalshi.Timeout},
		cfg.Kalshi.KeyID, kalshiKey, cfg.Kalshi.UseDemo,
	)

	gammaClient := polymarket.NewGammaClient(
		&http.Client{Timeout: cfg.Polymarket.Timeout}, cfg.Polymarket.GammaBaseURL,
	)
	var orderSigner *polymarket.OrderSigner
	if cfg.Polymarket.PrivateKey != "" {
		orderSigner, err = polymarket.NewOrderSigner(cfg.Polymarket.PrivateKey, cfg.Polymarket.SafeAddress)
		if err != nil {
			logger.Warn("polymarket signer init failed, trading disabled", zap.Error(err))
		}
	}
	clobClient := polymarket.NewClobClient(
		&http.Client{Timeout: cfg.Polymarket.Timeout}, cfg.Polymarket.ClobBaseURL, orderSigner,
	)

	llmClient := llm.New(cfg.LLM)
	searchClient := tavily.New(cfg.Tavily.APIKey, cfg.Tavily.BaseURL, cfg.Tavily.Timeout)
	ensemble := agents.NewEnsemble(llmClient, searchClient, logger)

	scanner := &service.ScannerService{
		Repo:   store,
		Kalshi: kalshiClient,
		Gamma:  gammaClient,
		Logger: logger,
		Cfg:    cfg.Scanner,
	}
	executor := &service.ExecutorService{
		Repo:    store,
		Kalshi:  kalshiClient,
		Clob:    clobClient,
		Gamma:   gammaClient,
		Logger:  logger,
		Trading: cfg.Trading,
	}
	analyzer := &service.AnalyzerService{
		Repo:      store,
		Estimator: ensemble,
		Executor:  executor,
		Logger:    logger,
		Trading:   cfg.Trading,
	}
	monitor := &service.PositionMonitor{
		Repo:   store,
		Kalshi: kalshiClient,
		Clob:   clobClient,
		Gamma:  gammaClient,
		Logger: logger,
	}
	resolution := &service.ResolutionService{
		Repo:   store,
		Kalshi: kalshiClient,
		Gamma:  gammaClient,
		Logger: logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	marketHandler := &handler.MarketHandler{Kalshi: kalshiClient, Gamma: gammaClient, Logger: logger}
	marketHandler.Register(engine)
	scannerHandler := &handler.ScannerHandler{Scanner: scanner, Repo: store, Logger: logger}
	scannerHandler.Register(engine)
	analyzeHandler := &handler.AnalyzeHandler{Analyzer: analyzer, Repo: store, Logger: logger}
	analyzeHandler.Register(engine)
	positionHandler := &handler.PositionHandler{
		Repo: store, Executor: executor, Logger: logger, Trading: cfg.Trading,
	}
	positionHandler.Register(engine)
	calibrationHandler := &handler.CalibrationHandler{Repo: store, Logger: logger}
	calibrationHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)

		scanSpec := "@every " + cfg.Scanner.ScanInterval().String()
		if _, err := cronRunner.Add("market-scan", scanSpec, func(ctx context.Context) {
			result := scanner.Run(ctx)
			logger.Info("cron scan complete",
				zap.String("scan_id", result.ScanID),
				zap.Int("fetched", result.TotalFetched),
				zap.Int("qualifying", result.Qualifying))
		}); err != nil {
			logger.Warn("cron register scan failed", zap.Error(err))
		}

		if _, err := cronRunner.Add("position-monitor", "@every 60s", func(ctx context.Context) {
			monitor.RunOnce(ctx)
		}); err != nil {
			logger.Warn("cron register monitor failed", zap.Error(err))
		}

		if _, err := cronRunner.Add("resolution-check", "@every 1h", func(ctx context.Context) {
			if resolved := resolution.RunOnce(ctx); resolved > 0 {
				logger.Info("cron resolution complete", zap.Int("resolved", resolved))
			}
		}); err != nil {
			logger.Warn("cron register resolution failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
