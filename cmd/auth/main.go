package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/broker"
	"github.com/Sanglm2207/my-microservices-app/internal/adapter/cache"
	"github.com/Sanglm2207/my-microservices-app/internal/bootstrap"
	"github.com/Sanglm2207/my-microservices-app/internal/config"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
	httptransport "github.com/Sanglm2207/my-microservices-app/internal/http"
	"github.com/Sanglm2207/my-microservices-app/internal/http/handler"
	httpmiddleware "github.com/Sanglm2207/my-microservices-app/internal/http/middleware"
	"github.com/Sanglm2207/my-microservices-app/internal/jwt"
	apimiddleware "github.com/Sanglm2207/my-microservices-app/internal/middleware"
	"github.com/Sanglm2207/my-microservices-app/internal/password"
	"github.com/Sanglm2207/my-microservices-app/internal/repository"
	"github.com/Sanglm2207/my-microservices-app/internal/secretbox"
	"github.com/Sanglm2207/my-microservices-app/internal/server"
	"github.com/Sanglm2207/my-microservices-app/internal/service"
	"github.com/Sanglm2207/my-microservices-app/internal/service/saga"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
	"github.com/Sanglm2207/my-microservices-app/internal/service/twofactor"
	"github.com/Sanglm2207/my-microservices-app/internal/service/userevents"
	"github.com/Sanglm2207/my-microservices-app/internal/telemetry"
	"github.com/Sanglm2207/my-microservices-app/internal/totp"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newSagaRepository,
			newRedisClient,
			newEphemeralStore,
			newRabbitBus,
			newEventBus,
			newPublisher,
			newTokenManager,
			newSecretBox,
			newAuthenticator,
			newTwoFactorService,
			newHasher,
			newCoordinator,
			newUserEventsConsumer,
			service.NewAuthService,
			newCookieConfig,
			handler.NewAuthHandler,
			newAuthMiddleware,
			newLimiters,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startConsumers, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
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

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.DatabaseAutoMigrate {
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newSagaRepository(pool *pgxpool.Pool) repository.SagaRepository {
	return repository.NewPostgresSagaRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newEphemeralStore(client redis.UniversalClient) repository.EphemeralStore {
	return cache.NewRedisStore(client)
}

// newRabbitBus declares the topology of both saga participants so that
// messages published before the notifier starts are queued, not dropped.
func newRabbitBus(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*broker.RabbitBus, error) {
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

func newEventBus(bus *broker.RabbitBus) events.Bus {
	return bus
}

func newPublisher(bus events.Bus) events.Publisher {
	return bus
}

func newTokenManager(cfg config.Config, users repository.UserRepository, store repository.EphemeralStore, logger *zap.Logger) (*token.Manager, error) {
	accessRing, err := jwt.NewKeyring(
		jwt.Key{ID: cfg.AccessTokenKeyID, Secret: []byte(cfg.AccessTokenSecret)},
		jwt.KeysFromMap(cfg.PreviousAccessKeys)...,
	)
	if err != nil {
		return nil, fmt.Errorf("access keyring: %w", err)
	}
	refreshRing, err := jwt.NewKeyring(
		jwt.Key{ID: cfg.RefreshTokenKeyID, Secret: []byte(cfg.RefreshTokenSecret)},
		jwt.KeysFromMap(cfg.PreviousRefreshKeys)...,
	)
	if err != nil {
		return nil, fmt.Errorf("refresh keyring: %w", err)
	}
	return token.NewManager(users, store,
		jwt.NewSigner(accessRing, cfg.TokenIssuer, cfg.AccessTokenTTL),
		jwt.NewSigner(refreshRing, cfg.TokenIssuer, cfg.RefreshTokenTTL),
		logger,
	), nil
}

func newSecretBox(cfg config.Config) (*secretbox.Box, error) {
	active, err := secretbox.ParseKey(cfg.TwoFactorKeyID, cfg.TwoFactorEncryptionKey)
	if err != nil {
		return nil, err
	}
	var previous []secretbox.Key
	for id, material := range cfg.PreviousEncryptionKeys {
		key, err := secretbox.ParseKey(id, material)
		if err != nil {
			return nil, err
		}
		previous = append(previous, key)
	}
	return secretbox.New(active, previous...)
}

func newAuthenticator(cfg config.Config) *totp.Authenticator {
	return totp.New(cfg.TwoFactorIssuer)
}

func newTwoFactorService(cfg config.Config, users repository.UserRepository, store repository.EphemeralStore, tokens *token.Manager, box *secretbox.Box, otp *totp.Authenticator, logger *zap.Logger) *twofactor.Service {
	return twofactor.NewService(users, store, tokens, box, otp, cfg.OTPSessionTTL, logger)
}

func newHasher() (*password.Hasher, error) {
	return password.NewHasher(password.DefaultParams)
}

func newCoordinator(cfg config.Config, sagas repository.SagaRepository, store repository.EphemeralStore, bus events.Bus, logger *zap.Logger) *saga.Coordinator {
	return saga.NewCoordinator(sagas, store, bus, saga.Options{
		Workers:         cfg.SagaWorkers,
		Prefetch:        cfg.SagaPrefetch,
		VerificationTTL: cfg.VerificationTokenTTL,
	}, logger)
}

func newUserEventsConsumer(cfg config.Config, users repository.UserRepository, bus events.Bus, logger *zap.Logger) *userevents.Consumer {
	return userevents.NewConsumer(users, bus, cfg.SagaWorkers, logger)
}

func newCookieConfig(cfg config.Config) handler.CookieConfig {
	return handler.CookieConfig{Secure: cfg.SecureCookies, RefreshPath: cfg.RefreshCookiePath}
}

func newAuthMiddleware(tokens *token.Manager) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Tokens: tokens}
}

func newLimiters(cfg config.Config) httptransport.Limiters {
	return httptransport.Limiters{
		General:   apimiddleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		Sensitive: apimiddleware.NewRateLimiter(cfg.SensitiveRateLimit, cfg.SensitiveRateWindow),
	}
}

func startConsumers(lc fx.Lifecycle, coord *saga.Coordinator, consumer *userevents.Consumer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := coord.Start(ctx); err != nil {
				return err
			}
			return consumer.Start(ctx)
		},
		OnStop: func(context.Context) error {
			if err := consumer.Stop(); err != nil {
				return err
			}
			return coord.Stop()
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
					logger.Error("http server stopped", zap.Error(err))
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
