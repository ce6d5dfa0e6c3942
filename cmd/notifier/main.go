package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/broker"
	"github.com/Sanglm2207/my-microservices-app/internal/config"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
	"github.com/Sanglm2207/my-microservices-app/internal/notification"
	"github.com/Sanglm2207/my-microservices-app/internal/server"
	"github.com/Sanglm2207/my-microservices-app/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadNotifier,
			newLogger,
			newTelemetry,
			newBus,
			newMailer,
			newRelay,
			newHealthRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startRelay, startHTTPServer),
	)

	app.Run()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", cfg.ServiceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})
	return provider, nil
}

func newBus(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (events.Bus, error) {
	bus, err := broker.Dial(cfg.RabbitMQURL, cfg.PublishTimeout, logger.Named("broker"))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bus.Declare(ctx, events.Merge(events.AuthTopology(), events.NotificationTopology())); err != nil {
		_ = bus.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return bus.Close()
		},
	})
	return bus, nil
}

func newMailer(logger *zap.Logger) notification.Mailer {
	return notification.LogMailer{Logger: logger.Named("mailer")}
}

func newRelay(cfg config.Config, bus events.Bus, mailer notification.Mailer, logger *zap.Logger) *notification.Relay {
	return notification.NewRelay(bus, mailer, cfg.FrontendURL, cfg.SagaWorkers, logger)
}

func newHealthRouter(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(cfg.ServiceName))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})
	return r
}

func startRelay(lc fx.Lifecycle, relay *notification.Relay) {
	lc.Append(fx.Hook{
		OnStart: relay.Start,
		OnStop: func(context.Context) error {
			return relay.Stop()
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})
			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("health server stopped", zap.Error(err))
				}
				close(done)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
