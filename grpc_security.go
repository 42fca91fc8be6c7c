package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	adminrpc "github.com/kawacukennedy/3d-racing-game-sub001/internal/grpc"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
)

// configureGRPCSecurity builds the server options guarding the admin API. mTLS and
// the shared secret may be combined; at least one is required.
func configureGRPCSecurity(cfg *config.Config, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grpc config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	var opts []grpc.ServerOption

	if cfg.GRPCClientCA != "" {
		creds, err := loadMTLSCredentials(cfg.GRPCServerCert, cfg.GRPCServerKey, cfg.GRPCClientCA)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
		logger.Info("gRPC mTLS enabled")
	}
	if cfg.GRPCSharedSecret != "" {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(adminrpc.SharedSecretUnaryInterceptor(cfg.GRPCSharedSecret)),
			grpc.ChainStreamInterceptor(adminrpc.SharedSecretStreamInterceptor(cfg.GRPCSharedSecret)),
		)
		logger.Info("gRPC shared-secret authentication enabled")
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("grpc admin api requires a shared secret or mTLS")
	}
	return opts, nil
}

func loadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// stopGRPC drains server gracefully and falls back to a hard stop once ctx
// expires. It reports whether the graceful drain finished in time.
func stopGRPC(ctx context.Context, server *grpc.Server) bool {
	if server == nil {
		return true
	}
	drained := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
		return true
	case <-ctx.Done():
		server.Stop()
		<-drained
		return false
	}
}
