package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tripwise.org/internal/approval"
	"tripwise.org/internal/auth"
	"tripwise.org/internal/booking"
	"tripwise.org/internal/config"
	"tripwise.org/internal/directory"
	"tripwise.org/internal/httpapi"
	"tripwise.org/internal/notify"
	"tripwise.org/internal/obs"
	"tripwise.org/internal/policy"
	"tripwise.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type backend struct {
	bookings booking.Store
	roles    auth.RoleStore
	dir      directory.Source
	settings policy.SettingsSource
	ready    httpapi.DBReadiness
	close    func() error
}

func main() {
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	shutdownTracing := obs.SetupTracing(context.Background(), cfg.ServiceName)

	be, err := openBackend(cfg)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}

	dir := directory.WithTimeout(be.dir, cfg.DirectoryTimeout)
	sender, closeSender := newSender(cfg, logger)
	dispatcher := notify.NewDispatcher(sender, dir, cfg.NotifyTimeout, logger)

	roles, err := auth.NewRoleService(be.roles, dir)
	if err != nil {
		logger.Fatal("role service", zap.Error(err))
	}
	lifecycle, err := booking.NewLifecycle(be.bookings, dir, dispatcher)
	if err != nil {
		logger.Fatal("lifecycle", zap.Error(err))
	}
	settings, err := policySettings(cfg, be.settings)
	if err != nil {
		logger.Fatal("policy settings", zap.Error(err))
	}
	bookings, err := booking.NewService(be.bookings, lifecycle, policy.NewEngine(), settings, dir)
	if err != nil {
		logger.Fatal("booking service", zap.Error(err))
	}
	approvals, err := approval.NewHandler(be.bookings, lifecycle)
	if err != nil {
		logger.Fatal("approval handler", zap.Error(err))
	}
	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret)
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}

	api, err := httpapi.New(httpapi.Deps{
		Ready:     be.ready,
		Version:   version,
		Tokens:    tokens,
		Roles:     roles,
		Bookings:  bookings,
		Approvals: approvals,
		Directory: dir,
	})
	if err != nil {
		logger.Fatal("http api", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(be.ready)
	grpcSrv := httpapi.NewGRPCServer(health)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go health.Poll(ctx, 10*time.Second)

	logger.Info("starting tripwise-api",
		zap.String("version", version),
		zap.String("http_addr", srv.Addr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.Bool("postgres", cfg.PostgresDSN != ""),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("pending notifications abandoned", zap.Error(err))
	}
	closeSender()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	if be.close != nil {
		_ = be.close()
	}
	logger.Info("stopped")
}

func openBackend(cfg config.Config) (backend, error) {
	if cfg.PostgresDSN == "" {
		obs.Logger().Warn("TRIPWISE_PG_DSN not set, using in-memory demo data")
		return memoryBackend(context.Background())
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return backend{}, err
	}
	return backend{
		bookings: store,
		roles:    store,
		dir:      store,
		settings: store,
		ready:    httpapi.DBReadiness{DB: store.DB()},
		close:    store.Close,
	}, nil
}

// policySettings puts an optional policy file in front of the backend's own
// organization settings.
func policySettings(cfg config.Config, stored policy.SettingsSource) (policy.SettingsSource, error) {
	if cfg.PolicyFile == "" {
		return stored, nil
	}
	file, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	return policy.Chain{file, stored}, nil
}

func newSender(cfg config.Config, logger *zap.Logger) (notify.Sender, func()) {
	if cfg.RedisAddr == "" {
		return notify.LogSender{Logger: logger}, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := notify.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Warn("redis unavailable, notifications go to the log", zap.Error(err))
		return notify.LogSender{Logger: logger}, func() {}
	}
	return notify.NewRedisStreamSender(client, cfg.NotifyStream), func() { _ = client.Close() }
}
