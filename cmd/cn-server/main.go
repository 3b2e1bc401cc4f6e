package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"astock/internal/cnapi"
	"astock/internal/config"
	"astock/internal/metrics"
	"astock/internal/synctask"
	"astock/internal/util"
)

// syncService is the health service name reported while the sync API is up.
const syncService = "astock.cn.sync"

func main() {
	// Load config.
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	w, closer := util.FileSink{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}.Writer()
	defer closer.Close()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	util.SetDefault(logger)

	// Wire stores, provider, and orchestrator.
	m := metrics.New()
	c, err := synctask.Wire(cfg, m)
	if err != nil {
		log.Fatalf("wiring sync: %v", err)
	}
	defer c.Stores.Close()
	orch := c.Orchestrator

	if ok, err := orch.Recover(context.Background()); err != nil {
		logger.Error("recovering sync status", "error", err)
	} else if ok {
		logger.Warn("previous sync was interrupted by a restart")
	}

	var sched *synctask.Scheduler
	if spec := cfg.Gather.CNDaily.Schedule; spec != "" {
		sched, err = synctask.NewScheduler(spec, orch)
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		sched.Start()
	}

	srv := cnapi.NewCNServer(orch, c.Universe, c.Stores.History, m, logger)

	// Start HTTP server.
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: srv.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("CN server listening", "addr", httpServer.Addr, "backend", cfg.Storage.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// Start gRPC health server.
	var grpcServer *grpc.Server
	var healthSrv *health.Server
	if cfg.Server.GRPCPort > 0 {
		grpcServer = grpc.NewServer()
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		reflection.Register(grpcServer)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthSrv.SetServingStatus(syncService, healthpb.HealthCheckResponse_SERVING)

		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			logger.Info("gRPC health listening", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down CN server")

	if healthSrv != nil {
		healthSrv.Shutdown()
	}
	if sched != nil {
		<-sched.Stop().Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("sync did not stop in time", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}
