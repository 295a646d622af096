package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/auth"
	"github.com/Krajiyah/firebase-admin-util/internal/config"
	"github.com/Krajiyah/firebase-admin-util/internal/push"
	"github.com/Krajiyah/firebase-admin-util/internal/server"
	"github.com/Krajiyah/firebase-admin-util/internal/storage"
	fbsync "github.com/Krajiyah/firebase-admin-util/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the HTTP and gRPC servers",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		b, err := openBackend(cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		opts := []server.Option{server.WithLogger(logger)}

		var tokens *auth.Tokens
		if cfg.JWTSecret != "" {
			tokens = auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
		} else {
			logger.Info("login disabled (FBUTIL_JWT_SECRET not set)")
		}
		opts = append(opts, server.WithAccounts(auth.NewService(b.accounts, auth.WithLogger(logger)), tokens))

		if cfg.NATSURL != "" {
			opts = append(opts, server.WithPush(push.NewSender(b.publisher, logger)))
		} else {
			logger.Info("push disabled (FBUTIL_NATS_URL not set)")
		}

		srv := server.New(b.reg, opts...)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := srv.StartBroadcast(ctx); err != nil {
			return err
		}

		grpcServer := server.NewGRPCServer(srv, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			srv.StopBroadcast()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: srv.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Periodic backups to the bucket and/or a local file.
		var scheduler *fbsync.Scheduler
		if cfg.SyncInterval > 0 {
			var dests []fbsync.Destination
			if cfg.S3Bucket != "" {
				bucket, err := storage.New(ctx, storage.Config{
					Bucket:    cfg.S3Bucket,
					Region:    cfg.S3Region,
					Endpoint:  cfg.S3Endpoint,
					PublicURL: cfg.S3PublicURL,
				}, logger)
				if err != nil {
					logger.Error("failed to create S3 sync destination", "err", err)
				} else {
					dests = append(dests, fbsync.NewS3Destination(bucket, cfg.SyncKey))
					logger.Info("sync S3 destination enabled", "bucket", cfg.S3Bucket, "key", cfg.SyncKey)
				}
			}
			if cfg.SyncFile != "" {
				dests = append(dests, fbsync.NewFileDestination(cfg.SyncFile))
				logger.Info("sync file destination enabled", "file", cfg.SyncFile)
			}
			if len(dests) > 0 {
				scheduler = fbsync.NewScheduler(b.reg, dests, cfg.SyncInterval, logger)
				scheduler.Start()
				logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
			}
		}

		logger.Info("fbutil server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"entities", b.reg.Names(),
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		srv.StopBroadcast()

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		logger.Info("shutdown complete")
		return nil
	},
}
