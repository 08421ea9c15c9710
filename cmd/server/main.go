package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/api"
	"github.com/corralhq/corral/internal/app"
	"github.com/corralhq/corral/internal/auth"
	"github.com/corralhq/corral/internal/database"
	"github.com/corralhq/corral/internal/maintenance"
	"github.com/corralhq/corral/internal/realtime"
	"github.com/corralhq/corral/internal/services"
	"github.com/corralhq/corral/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "corral: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.WithModule("main")

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrateAndSeed(db); err != nil {
		return err
	}

	broker := realtime.NewBroker(16)

	var notifier realtime.Notifier
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		notifier = realtime.NewRedisNotifier(client, cfg.Redis.Channel, broker)
		log.Info("cross-process event notification enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		notifier = realtime.NewLocalNotifier(broker)
		log.Info("running with in-process event notification only")
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:          cfg.Auth.Secret,
		Issuer:          cfg.Auth.Issuer,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return err
	}

	permissions, err := services.NewPermissionService(db)
	if err != nil {
		return err
	}
	schemas, err := services.NewSchemaService(db)
	if err != nil {
		return err
	}
	events, err := services.NewEventService(db, permissions, broker, notifier)
	if err != nil {
		return err
	}
	locks, err := services.NewLockService(db, services.LockConfig{LeaseTTL: cfg.Locks.LeaseTTL})
	if err != nil {
		return err
	}
	resources, err := services.NewResourceService(db, schemas, permissions, events, locks)
	if err != nil {
		return err
	}
	users, err := services.NewUserService(db)
	if err != nil {
		return err
	}
	groups, err := services.NewGroupService(db)
	if err != nil {
		return err
	}
	accounts, err := services.NewServiceAccountService(db)
	if err != nil {
		return err
	}
	authSvc, err := services.NewAuthService(db, tokens, users)
	if err != nil {
		return err
	}

	rootSecret, err := accounts.EnsureRootAccount(context.Background())
	if err != nil {
		return fmt.Errorf("bootstrap root account: %w", err)
	}
	if rootSecret != "" {
		// Printed exactly once, on first startup. There is no way to
		// recover it afterwards.
		fmt.Printf("root service account secret: %s\n", rootSecret)
	}

	if err := schemas.LoadDirectory(context.Background(), cfg.Schemas.Dir); err != nil {
		return err
	}

	sweeper, err := maintenance.NewSweeper(locks)
	if err != nil {
		return err
	}
	if err := sweeper.Start(cfg.Locks.SweepInterval); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	router := api.NewRouter(api.Services{
		Tokens:          tokens,
		Auth:            authSvc,
		Resources:       resources,
		Schemas:         schemas,
		Permissions:     permissions,
		Events:          events,
		Locks:           locks,
		Users:           users,
		Groups:          groups,
		ServiceAccounts: accounts,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	sweeper.Stop()
	if err := notifier.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close notifier: %w", err))
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errs
}
