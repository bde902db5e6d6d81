package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"auditgrid.org/internal/audit"
	"auditgrid.org/internal/auth"
	"auditgrid.org/internal/config"
	"auditgrid.org/internal/httpapi"
	"auditgrid.org/internal/license"
	"auditgrid.org/internal/obs"
	pgstore "auditgrid.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUDITGRID_CONFIG"), "Path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "auditgrid-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := obs.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	obs.SetLogger(log)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, log, cfg.Tracing.Endpoint, "auditgrid-api", cfg.Tracing.Environment)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, err := pgstore.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	store.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
	store.DB().SetMaxIdleConns(cfg.Database.MaxIdleConns)
	store.DB().SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	svc, grpcSrv, err := buildServices(ctx, cfg, store, log)
	if err != nil {
		return err
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: store}, httpapi.Options{
		Version:      version,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RateLimit:    cfg.RateLimit.Enabled,
		RateBurst:    cfg.RateLimit.Burst,
		RatePerSec:   cfg.RateLimit.PerSecond,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	gs := grpc.NewServer()
	grpcSrv.Register(gs)

	log.Info("starting auditgrid-api",
		zap.String("version", version),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		grpcSrv.WatchHealth(gctx, 15*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gs.GracefulStop()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

// buildServices wires the login pipeline. The action catalog is loaded once here.
func buildServices(ctx context.Context, cfg *config.Config, store *pgstore.Store, log *zap.Logger) (*auth.Service, *httpapi.GRPCServer, error) {
	lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	catalog, err := auth.LoadCatalog(lctx, store)
	if err != nil {
		return nil, nil, fmt.Errorf("load action catalog: %w", err)
	}

	resolver := auth.NewPermissionResolver(store, catalog, log.Named("permissions"))
	issuer := auth.NewTokenIssuer(auth.StaticSigning(auth.SigningConfig{
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		Key:           cfg.Auth.SigningKey,
		ExpiryMinutes: cfg.Auth.ExpiryMinutes,
	}))

	opts := []auth.ServiceOption{
		auth.WithGrantType(cfg.Auth.GrantType),
		auth.WithAuditTimeout(cfg.Auth.AuditTimeout),
		auth.WithLogger(log.Named("login")),
	}
	recorder, err := buildRecorder(cfg, store, resolver, log)
	if err != nil {
		// Audit is best-effort; logins continue without it.
		log.Warn("session audit disabled", zap.Error(err))
	} else {
		opts = append(opts, auth.WithRecorder(recorder))
	}

	svc, err := auth.NewService(auth.NewCredentialVerifier(store), resolver, issuer, opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, httpapi.NewGRPCServer(svc, httpapi.ReadyProbe{DB: store}), nil
}

func buildRecorder(cfg *config.Config, store *pgstore.Store, perms audit.PermissionSource, log *zap.Logger) (*audit.Recorder, error) {
	codec, err := license.NewCodec(cfg.License.MasterKey)
	if err != nil {
		return nil, err
	}
	tmpl, err := license.ParseConnectionTemplate(cfg.License.ConnectionTemplate)
	if err != nil {
		return nil, err
	}
	return audit.NewRecorder(perms, store, store, codec, tmpl, audit.WithLogger(log.Named("audit")))
}
