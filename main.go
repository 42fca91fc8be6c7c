package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	adminrpc "github.com/kawacukennedy/3d-racing-game-sub001/internal/grpc"
	httpapi "github.com/kawacukennedy/3d-racing-game-sub001/internal/http"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/matchmaking"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replay"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/session"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/tracing"
)

const (
	shutdownTimeout      = 10 * time.Second
	replaySweepInterval  = time.Minute
	adminResultsWindow   = time.Minute
	adminResultsRequests = 30
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "racesync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, logging.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	//1.- Optional persistence: the results archive and per-room replays.
	registryOpts := []session.Option{session.WithLogger(logger)}
	var store *results.Store
	if cfg.ResultsDBPath != "" {
		store, err = results.Open(cfg.ResultsDBPath)
		if err != nil {
			return fmt.Errorf("open results archive: %w", err)
		}
		defer store.Close()
		registryOpts = append(registryOpts, session.WithArchiver(store))
	}
	var recorder *replay.Recorder
	var cleaner *replay.Cleaner
	if cfg.ReplayDir != "" {
		recorder, err = replay.NewRecorder(cfg.ReplayDir, clock.System(), logger)
		if err != nil {
			return fmt.Errorf("open replay directory: %w", err)
		}
		registryOpts = append(registryOpts, session.WithRecorderFactory(func(roomID string) (room.Recorder, error) {
			return recorder.Open(roomID)
		}))
		cleaner = replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{MaxRooms: cfg.ReplayMaxRooms, MaxAge: cfg.ReplayMaxAge}, logger,
			replay.WithOpenRecordings(recorder))
		go cleaner.Run(ctx, replaySweepInterval)
	}
	registry := session.NewRegistry(cfg.Race, registryOpts...)

	//2.- Racer transport.
	serverOpts := []ServerOption{WithLogger(logger)}
	if cfg.JoinSecret != "" {
		authenticator, err := newHMACWebsocketAuthenticator(cfg.JoinSecret)
		if err != nil {
			return fmt.Errorf("init join tokens: %w", err)
		}
		serverOpts = append(serverOpts, WithWebsocketAuthenticator(authenticator))
	}
	server := NewServer(cfg, registry, serverOpts...)

	//3.- Operational endpoints share the mux with the websocket route.
	mux := http.NewServeMux()
	server.Register(mux)
	handlerOpts := httpapi.Options{
		Logger:      logger,
		Readiness:   server,
		Rooms:       registry.Stats,
		Queue:       func() matchmaking.Stats { return server.Queue().Stats() },
		Delivery:    registry.Delivery,
		Rejections:  registry.Validator().Totals,
		Bandwidth:   server.Bandwidth(),
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(adminResultsWindow, adminResultsRequests, nil),
	}
	if store != nil {
		handlerOpts.Results = store
	}
	if recorder != nil {
		handlerOpts.ReplayStats = recorder.Snapshot
		handlerOpts.Storage = cleaner.Stats
	}
	httpapi.NewHandlerSet(handlerOpts).Register(mux)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	tlsEnabled := cfg.TLSCertPath != ""
	errs := make(chan error, 2)
	go func() {
		var serveErr error
		if tlsEnabled {
			serveErr = httpServer.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", serveErr)
		}
	}()
	logger.Info("race server listening",
		logging.String("url", listenerURL(cfg.Address, tlsEnabled)),
		logging.String("websocket", websocketURL(cfg.Address, tlsEnabled)),
	)

	//4.- Admin RPC, only when an address is configured.
	var (
		grpcServer   *grpc.Server
		adminService *adminrpc.Service
	)
	if cfg.GRPCAddress != "" {
		grpcOpts, err := configureGRPCSecurity(cfg, logger)
		if err != nil {
			return err
		}
		listener, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcServer = grpc.NewServer(grpcOpts...)
		adminService = adminrpc.NewService(registry, registry, adminrpc.WithLogger(logger))
		adminrpc.RegisterRaceAdminServer(grpcServer, adminService)
		go func() {
			if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
				errs <- fmt.Errorf("grpc server: %w", serveErr)
			}
		}()
		logger.Info("admin rpc listening", logging.String("address", cfg.GRPCAddress))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errs:
		server.SetStartupError(runErr)
		logger.Error("server failed", logging.Error(runErr))
	}

	//5.- Drain in dependency order: clients, listeners, rooms, then storage.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Close(shutdownCtx); err != nil {
		logger.Warn("client drain incomplete", logging.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", logging.Error(err))
	}
	if grpcServer != nil {
		adminService.Close()
		if !stopGRPC(shutdownCtx, grpcServer) {
			logger.Warn("admin rpc drain timed out, connections closed")
		}
	}
	registry.Close()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Warn("replay recorder close failed", logging.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", logging.Error(err))
	}
	return runErr
}
