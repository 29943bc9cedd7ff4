package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/chamaledger/internal/api"
	"github.com/mmynk/chamaledger/internal/auth"
	"github.com/mmynk/chamaledger/internal/config"
	"github.com/mmynk/chamaledger/internal/ledger/solana"
	"github.com/mmynk/chamaledger/internal/middleware"
	"github.com/mmynk/chamaledger/internal/notify"
	"github.com/mmynk/chamaledger/internal/service"
	"github.com/mmynk/chamaledger/internal/storage/sqlite"
	"github.com/mmynk/chamaledger/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the RPC server and the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.Database.Path)

	oracle, err := solana.New(solana.Config{
		RPCURL:      cfg.Ledger.RPCURL,
		PayerSecret: cfg.Ledger.PayerSecret,
		Timeout:     cfg.Ledger.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ledger oracle: %w", err)
	}
	defer oracle.Close()
	slog.Info("Ledger oracle initialized", "rpc_url", cfg.Ledger.RPCURL, "treasury", oracle.TreasuryAddress())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := service.NewEngine(store, service.Options{
		Oracle:        oracle,
		Notifier:      notify.LogNotifier{},
		PayoutDelay:   cfg.Schedule.PayoutDelay,
		OracleTimeout: cfg.Ledger.Timeout,
		StaleAfter:    cfg.Sweep.StaleAfter,
		Policies:      policies(cfg.Retry),
	})
	pool := worker.New(store, worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		Lease:        cfg.Worker.Lease,
		Registerer:   reg,
	})
	engine.RegisterTasks(pool)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	mux := http.NewServeMux()
	path, handler := api.NewLedgerServiceHandler(api.NewLedgerService(engine),
		connect.WithInterceptors(middleware.RequireAuth(tokens), middleware.LoggingInterceptor()),
	)
	mux.Handle(path, handler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// h2c serves HTTP/2 without TLS for gRPC-compatible clients
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweepLoop(ctx, engine.Sweeper, cfg.Sweep.Interval)
	}()

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Connect server starting", "address", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err = <-serverErr:
		slog.Error("Server failed", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("Server shutdown failed", "error", shutdownErr)
	}

	// Stop claiming jobs and wait for in-flight ones before the store closes.
	cancel()
	wg.Wait()
	return err
}

// sweepLoop expires stale contributions every interval until ctx is done.
func sweepLoop(ctx context.Context, sweeper *service.Sweeper, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.ExpireStaleContributions(ctx); err != nil {
				slog.Error("Stale contribution sweep failed", "error", err)
			}
		}
	}
}

func policies(c config.RetryConfig) service.Policies {
	return service.Policies{
		Verification: c.Verification,
		Submission:   c.Submission,
		Confirmation: c.Confirmation,
		Schedule:     c.Schedule,
	}
}
