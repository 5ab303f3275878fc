package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-estate-auth"
	"github.com/goliatone/go-estate-auth/backend"
	"github.com/goliatone/go-estate-auth/cache"
	"github.com/goliatone/go-estate-auth/repository"
	"github.com/goliatone/go-router"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
)

type App struct {
	settings *auth.Settings
	logs     auth.LoggerProvider
	logger   auth.Logger
	db       *bun.DB
	rdb      *redis.Client
	repo     *repository.Manager
	sessions *backend.Service
	srv      router.Server[*fiber.App]
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})

	settings, err := auth.LoadSettings(*envFile)
	if err != nil {
		base.WithError(err).Fatal("invalid configuration")
	}
	if level, err := logrus.ParseLevel(settings.LogLevel); err == nil {
		base.SetLevel(level)
	}

	app := &App{
		settings: settings,
		logs:     auth.NewLogrusProvider(base),
	}
	app.logger = app.logs.GetLogger("estated")

	if err := app.setup(context.Background()); err != nil {
		base.WithError(err).Fatal("failed to start")
	}

	app.srv.Serve(settings.HTTPAddr)
	app.logger.Info("listening", "addr", settings.HTTPAddr)

	sig := WaitExitSignal()
	app.logger.Info("shutting down", "signal", sig.String())
	app.close()
}

func (a *App) setup(ctx context.Context) error {
	var err error
	if a.db, err = repository.Open(a.settings.DatabaseDriver, a.settings.DatabaseURL); err != nil {
		return err
	}
	if err := repository.Migrate(ctx, a.db, a.settings.DatabaseDriver, a.logs.GetLogger("estated.migrate")); err != nil {
		return err
	}

	a.repo = repository.NewManager(a.db)
	a.repo.MustValidate()

	var (
		revocations auth.RevocationStore = backend.NewMemoryRevocationStore()
		properties  auth.PropertyCache   = auth.NewMemoryPropertyCache(a.settings.CacheTTL)
	)
	if a.settings.RedisAddr != "" {
		a.rdb = cache.NewRedisClient(a.settings.RedisAddr, "", 0)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis unreachable, continuing with in-process caches", "addr", a.settings.RedisAddr, "error", err)
		} else {
			revocations = cache.NewRevocationStore(a.rdb)
			properties = cache.NewPropertyCache(a.rdb, a.settings.CacheTTL)
		}
	}

	tokens := auth.NewTokenService(a.settings, auth.WithTokenLogger(a.logs.GetLogger("auth.token_service")))
	a.sessions = backend.New(a.repo.Accounts(), a.repo.Profiles(), tokens,
		backend.WithLoggerProvider(a.logs),
		backend.WithBcryptCost(a.settings.BcryptCost),
		backend.WithEmailConfirmation(a.settings.RequireEmailConfirmation),
		backend.WithMaxLoginAttempts(a.settings.MaxLoginAttempts),
		backend.WithLoginCooldown(a.settings.LoginCooldown),
		backend.WithProvisionDelay(a.settings.ProvisionDelay),
		backend.WithPhoneRegion(a.settings.PhoneRegion),
		backend.WithRevocationStore(revocations),
	)

	validator := a.sessions.Validator()
	if prev := a.settings.PreviousSigningKey; prev != "" {
		previous := auth.NewTokenService(a.settings.WithSigningKey(prev))
		validator = auth.NewMultiTokenValidator(validator, a.sessions.ValidatorFor(previous)).
			WithLogger(a.logs.GetLogger("auth.keys"))
	}

	resolver := auth.NewProfileResolver(a.repo.Profiles(),
		auth.WithResolverRetryPolicy(a.settings.RetryPolicy()),
		auth.WithResolverPhoneRegion(a.settings.PhoneRegion),
		auth.WithResolverLoggerProvider(a.logs),
	)

	verification := auth.NewVerificationService(a.repo.Properties(),
		auth.WithPropertyCache(properties),
		auth.WithVerificationLoggerProvider(a.logs),
		auth.WithVerificationActivitySink(auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
			a.logger.Info("activity",
				"event", event.EventType,
				"actor", event.Actor.ID,
				"property", event.PropertyID,
				"from", event.FromState,
				"to", event.ToState,
			)
			return nil
		})),
	)

	guard := auth.NewRouteAuthenticator(a.settings, validator, resolver).
		WithLogger(a.logs.GetLogger("auth.http"))

	controller := auth.NewHTTPController(a.sessions, resolver, verification, guard,
		auth.WithControllerLogger(a.logs.GetLogger("auth.controller")),
		auth.WithControllerDebug(a.settings.LogLevel == "debug"),
	)

	a.srv = router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:           "estated",
			UnescapePath:      true,
			EnablePrintRoutes: a.settings.LogLevel == "debug",
			StrictRouting:     false,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
		}))
	})

	auth.RegisterAuthRoutes(a.srv.Router(), controller)
	return nil
}

func (a *App) close() {
	if a.sessions != nil {
		a.sessions.Wait()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err)
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
