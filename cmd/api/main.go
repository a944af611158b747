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

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"idcheck.org/internal/auth"
	"idcheck.org/internal/checker"
	"idcheck.org/internal/config"
	"idcheck.org/internal/httpapi"
	"idcheck.org/internal/obs"
	"idcheck.org/internal/store"
	"idcheck.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	if cfg.Commit == "unknown" {
		cfg.Commit = commit
	}
	obs.SetLogger(obs.NewJSONLogger(os.Stdout, obs.ParseLevel(cfg.LogLevel)))
	log := obs.Logger()

	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit, string(cfg.Store))
	obs.SetReady(false)

	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	}()

	hub := stream.New(stream.DefaultBuffer)
	svc := checker.New(st, checker.WithPublisher(hub))
	opts := []httpapi.Option{
		httpapi.WithVersion(cfg.Version, cfg.Commit),
		httpapi.WithStream(hub),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithTrustedProxies(cfg.TrustedProxies...),
	}
	if cfg.AuthSecret != "" {
		issuer, err := auth.NewIssuer(cfg.AuthSecret)
		if err != nil {
			return err
		}
		opts = append(opts, httpapi.WithIssuer(issuer), httpapi.WithTokenBootstrap(cfg.BootstrapSecret))
		if cfg.BootstrapSecret == "" {
			log.Info("IDCARD_TOKEN_BOOTSTRAP_SECRET not set; /v1/auth/token is disabled")
		}
	} else {
		log.Warn("IDCARD_AUTH_SECRET not set; validation log reads are unauthenticated and corrections are disabled")
	}
	api := httpapi.New(svc, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCServer(svc, cfg.Version).Register(grpcSrv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := svc.Ping(pingCtx); err != nil {
		log.Warn("store not reachable at startup", "store", cfg.Store, "error", err)
	} else {
		obs.SetReady(true)
	}
	cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http", "addr", srv.Addr, "version", cfg.Version, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info("starting grpc", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		obs.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
