package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/federated"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/otp"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/store/kv"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/internal/sweep"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.LogError("server_exit", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var db *sql.DB
	users := auth.UserStore(auth.NewMemoryUserStore(nil))
	if cfg.DatabaseURL != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		var err error
		db, err = pg.Open(openCtx, cfg.DatabaseURL, pg.DefaultPool)
		cancel()
		if err != nil {
			return err
		}
		defer db.Close()
		users = auth.NewPGUserStore(db)
	}

	var (
		rdb      redis.UniversalClient
		sessions session.Registry
		ledger   otp.Ledger
	)
	sessionOpts := []session.Option{session.WithTTL(cfg.SessionLifetime())}
	otpOpts := []otp.Option{otp.WithMaxAttempts(cfg.OTPMaxAttempts)}
	if addrs := cfg.RedisAddrs(); len(addrs) > 0 {
		var err error
		rdb, err = kv.NewClient(kv.Options{Addrs: addrs, Password: cfg.RedisPassword, Cluster: cfg.RedisCluster})
		if err != nil {
			return err
		}
		defer rdb.Close()
		if err := kv.Ping(ctx, rdb); err != nil {
			return err
		}
		sessions = session.NewRedisRegistry(rdb, sessionOpts...)
		ledger = otp.NewRedisLedger(rdb, otpOpts...)
	} else {
		memSessions := session.NewMemoryRegistry(sessionOpts...)
		memOTP := otp.NewMemoryLedger(otpOpts...)
		go sweep.Run(ctx, "sessions", cfg.SweepEvery(), memSessions.Sweep)
		go sweep.Run(ctx, "otp", cfg.SweepEvery(), memOTP.Sweep)
		sessions, ledger = memSessions, memOTP
	}

	tokens, err := auth.NewTokenService(cfg.AuthSecret,
		auth.WithIssuer(cfg.AuthIssuer),
		auth.WithAccessTTL(cfg.AccessTokenTTL()),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL()),
	)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(users, sessions, tokens, auth.WithBcryptCost(cfg.BcryptCost))
	if err != nil {
		return err
	}

	deps := httpapi.Deps{
		Service:         svc,
		OTP:             ledger,
		Ready:           httpapi.ReadyProbe{DB: db, Redis: rdb},
		SecureCookies:   cfg.Production(),
		AccessTTL:       cfg.AccessTokenTTL(),
		RefreshTTL:      cfg.RefreshTokenTTL(),
		SessionTTL:      cfg.SessionLifetime(),
		OTPMaxAttempts:  cfg.OTPMaxAttempts,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitPerSec: cfg.RateLimitPerSec,
		CORSOrigins:     cfg.CORSOrigins(),
		TrustedProxies:  cfg.TrustedProxyPrefixes(),
		Version:         version,
	}
	if err := wireFederated(ctx, cfg, &deps); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(deps).Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		obs.Info("http_listen", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = httpapi.NewGRPCServer(deps.Ready)
		go func() {
			obs.Info("grpc_listen", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}
	obs.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	obs.SetReady(false)
	obs.Info("shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	obs.Info("stopped", nil)
	return runErr
}

// wireFederated enables the display decoder, the exchange verifier and
// provider sign-out according to which settings are present.
func wireFederated(ctx context.Context, cfg *config.Config, deps *httpapi.Deps) error {
	roles := federated.NewRoleMapper(cfg.FederatedRoleClaim, cfg.AdminEmails())
	if cfg.FederatedIssuer != "" {
		dec, err := federated.NewPayloadDecoder(cfg.FederatedIssuer, roles, nil)
		if err != nil {
			return err
		}
		deps.FederatedDecoder = dec
	}
	if cfg.FederatedAudience != "" {
		v, err := federated.NewGoogleVerifier(ctx, cfg.FederatedAudience, roles)
		if err != nil {
			return err
		}
		deps.FederatedVerifier = v
	}
	if cfg.FederatedRevokeURL != "" {
		deps.SignOuter = federated.NewRevokeSignOuter(cfg.FederatedRevokeURL, &http.Client{Timeout: 5 * time.Second})
	}
	return nil
}
