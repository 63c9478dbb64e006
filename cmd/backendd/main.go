// backendd is the central library-backend process: the C6 ingestion
// receiver, the C9 credential-issuance endpoints, and the out-of-scope
// dashboard boundary stub, all behind one echo server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/backendstore"
	"github.com/library-systems/gatehouse/internal/dashboard"
	"github.com/library-systems/gatehouse/internal/ingest"
	"github.com/library-systems/gatehouse/internal/issuance"
	"github.com/library-systems/gatehouse/internal/platform/config"
	"github.com/library-systems/gatehouse/internal/platform/httpmw"
	"github.com/library-systems/gatehouse/internal/platform/natsclient"
	"github.com/library-systems/gatehouse/internal/platform/telemetry"
	"github.com/library-systems/gatehouse/internal/tokencodec"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "gatehouse-backendd", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	cfg, err := config.LoadBackendConfig()
	if err != nil {
		logger.Fatal("loading backend config", zap.Error(err))
	}

	ctx := context.Background()
	store, err := backendstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("opening backend store", zap.Error(err))
	}
	defer store.Close()
	logger.Info("connected to database (OTel-instrumented)")

	natsClient, err := natsclient.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()
	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	codec := tokencodec.New(cfg.PrivateKey, cfg.PublicKey)

	ingestHandler := ingest.New(store, natsClient, logger, cfg.SyncMaxEvents)
	issuanceHandler := issuance.New(store, codec, logger)
	dashboardHandler := dashboard.New()

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("gatehouse-backendd"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request", zap.String("URI", v.URI), zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())

	gateGroup := e.Group("", httpmw.RequireGateAPIKey(cfg.GateAPIKey))
	ingestHandler.Register(gateGroup)

	staffGroup := e.Group("", httpmw.RequireStaffOrKiosk(cfg.KioskToken))
	issuanceHandler.Register(staffGroup)
	dashboardHandler.Register(staffGroup)

	go func() {
		logger.Info("gatehouse-backendd HTTP server listening on :8080")
		if err := e.Start(":8080"); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	logger.Info("gatehouse-backendd shut down cleanly")
}
