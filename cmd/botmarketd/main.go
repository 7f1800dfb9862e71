package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botmarket/chain"
	"botmarket/chain/solana"
	"botmarket/config"
	"botmarket/core/jobs"
	"botmarket/escrow"
	"botmarket/events"
	"botmarket/gateway"
	"botmarket/observability/logging"
	"botmarket/storage/memory"
	"botmarket/storage/sqlite"
	"botmarket/x402"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
	eventBusSize    = 256
)

func main() {
	configPath := flag.String("config", "", "path to optional TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("botmarketd", cfg.LogEnv)

	var (
		jobStore jobs.Store
		ledger   escrow.Ledger
	)
	if cfg.DatabasePath != "" {
		store, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			logger.Error("open sqlite store", "path", cfg.DatabasePath, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		jobStore = store.Jobs()
		ledger = store.Escrow()
		logger.Info("using sqlite storage", "path", cfg.DatabasePath)
	} else {
		jobStore = memory.NewJobStore()
		ledger = memory.NewEscrowLedger()
		logger.Info("using in-memory storage")
	}

	client := solana.NewClient(cfg.SolanaRPCURL)
	adapter := solana.NewAdapter(client)

	var builder chain.TransferBuilder
	if cfg.EscrowEnabled() {
		signer, err := solana.KeypairFromBase58(cfg.EscrowPrivateKey)
		if err != nil {
			logger.Error("parse escrow signing key", "error", err)
			os.Exit(1)
		}
		if signer.Pubkey().String() != cfg.EscrowWallet {
			logger.Error("escrow signing key does not match ESCROW_WALLET")
			os.Exit(1)
		}
		b, err := solana.NewEscrowTransferBuilder(adapter, signer, cfg.USDCMint)
		if err != nil {
			logger.Error("configure escrow transfer builder", "error", err)
			os.Exit(1)
		}
		builder = b
		logger.Info("escrow release enabled", "wallet", cfg.EscrowWallet)
	} else {
		logger.Warn("escrow release disabled; set ESCROW_WALLET and ESCROW_PRIVATE_KEY to enable",
			"key", logging.MaskSecret(cfg.EscrowPrivateKey))
	}

	bus := events.NewBus(eventBusSize)
	defer bus.Close()

	service := jobs.NewService(jobStore, bus, jobs.WithTTL(cfg.JobTTL))
	coordinator := escrow.NewCoordinator(ledger, adapter, builder, service, escrow.Config{
		EscrowWallet:   cfg.EscrowWallet,
		PlatformWallet: cfg.PlatformWallet,
		AssetMint:      cfg.USDCMint,
		FeeBasisPoints: escrow.FeeBasisPointsFromPercent(cfg.PlatformFeePercent),
	}, escrow.WithLogger(logger))

	paywall := x402.NewPaywall(service, coordinator, adapter, x402.Config{
		Network:   cfg.SolanaNetwork,
		AssetMint: cfg.USDCMint,
	}, logger)

	server := gateway.NewServer(service, coordinator, paywall, bus, gateway.Config{
		EscrowWallet:    cfg.EscrowWallet,
		AssetMint:       cfg.USDCMint,
		DemoMode:        cfg.DemoMode,
		AdminAPIKey:     cfg.AdminAPIKey,
		AdminAllowedIPs: cfg.AdminAllowedIPs,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := jobs.NewSweeper(service, coordinator, sweepInterval, logger)
	go sweeper.Run(ctx)

	if cfg.DemoMode {
		logger.Warn("demo mode enabled: deposits can be activated without on-chain verification")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketplace listening", "address", cfg.ListenAddress(), "network", cfg.SolanaNetwork)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("listen", "error", err)
		os.Exit(1)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown failed: %v\n", err)
	}
}
