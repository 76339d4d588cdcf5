package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/compose-network/zksafe/coordinator-app/config"
	apisrv "github.com/compose-network/zksafe/server/api"
	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/proofs"
	"github.com/compose-network/zksafe/x/proposal"
	proposalhttp "github.com/compose-network/zksafe/x/proposal/http"
	"github.com/compose-network/zksafe/x/prover"
	"github.com/compose-network/zksafe/x/safe"
	safehttp "github.com/compose-network/zksafe/x/safe/http"
	"github.com/compose-network/zksafe/x/store"
)

// App represents the main application
type App struct {
	cfg *config.Config
	log zerolog.Logger

	db          *store.DB
	safes       *safe.Service
	proposals   *proposal.Service
	apiServer   *apisrv.Server
	shutdownFns []func(context.Context) error
	cancel      context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg: cfg,
		log: log,
	}

	if err := app.initialize(ctx); err != nil {
		// release whatever was opened before the failure
		_ = app.runShutdownFns(context.Background())
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up all application components
func (a *App) initialize(ctx context.Context) error {
	db, err := store.Open(a.cfg.Database, a.log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.shutdownFns = append(a.shutdownFns, func(context.Context) error { return db.Close() })

	chainClient, err := a.initializeChain(ctx)
	if err != nil {
		return err
	}

	backend, err := prover.NewHTTPClient(
		a.cfg.Prover.BaseURL,
		&http.Client{Timeout: a.cfg.Prover.Timeout},
		a.log,
	)
	if err != nil {
		return fmt.Errorf("failed to create prover client: %w", err)
	}
	aggregator := proofs.NewAggregator(a.cfg.Aggregation, backend, a.log)

	a.safes, err = safe.NewService(a.cfg.Safe, db, chainClient, a.log)
	if err != nil {
		return fmt.Errorf("failed to create safe service: %w", err)
	}

	a.proposals, err = proposal.NewService(a.cfg.Proposal, db, chainClient, backend, aggregator, a.log)
	if err != nil {
		return fmt.Errorf("failed to create proposal service: %w", err)
	}

	a.initializeAPIServer()
	return nil
}

// initializeChain dials the node and builds the contract client. Without a relayer key
// the client is read-only and deploy/execute requests fail with a chain write error.
func (a *App) initializeChain(ctx context.Context) (*chain.EthClient, error) {
	cfg := a.cfg.Chain

	rpc, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCEndpoint, err)
	}
	a.shutdownFns = append(a.shutdownFns, func(context.Context) error {
		rpc.Close()
		return nil
	})

	if cfg.ChainID == 0 {
		id, err := rpc.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query chain id: %w", err)
		}
		cfg.ChainID = id.Uint64()
	}

	var signer chain.Signer
	if cfg.PrivateKeyHex != "" {
		s, err := chain.NewLocalECDSASignerFromHex(new(big.Int).SetUint64(cfg.ChainID), cfg.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to load relayer key: %w", err)
		}
		signer = s
		a.log.Info().Str("relayer", s.Address().Hex()).Msg("Relayer key loaded")
	} else {
		a.log.Warn().Msg("No relayer key configured, chain client is read-only")
	}

	client, err := chain.NewEthClient(ctx, cfg, rpc, signer, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	a.log.Info().
		Uint64("chain_id", cfg.ChainID).
		Str("factory", cfg.FactoryAddress).
		Msg("Chain client initialized")
	return client, nil
}

func (a *App) initializeAPIServer() {
	s := apisrv.NewServer(a.cfg.API, a.log)
	s.UseDefaultMiddleware()

	s.Handle("/health", http.HandlerFunc(a.handleHealth))
	s.Handle("/ready", http.HandlerFunc(a.handleReady))

	if a.cfg.Metrics.Enabled {
		s.Handle(a.cfg.Metrics.Path, promhttp.Handler())
	}

	s.Mount(
		safehttp.NewHandler(a.safes, a.log),
		proposalhttp.NewHandler(a.proposals, a.log),
	)

	a.apiServer = s
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			errCh <- err
		}
	}()

	return a.runWithGracefulShutdown(runCtx, errCh)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context, errCh <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info().Msg("ZK Safe coordinator started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errCh:
		a.log.Error().Err(err).Msg("API server error")
		runErr = fmt.Errorf("api server: %w", err)
	}

	if a.cancel != nil {
		a.cancel()
	}

	return errors.Join(runErr, a.shutdown())
}

// shutdown closes collaborators in reverse order of construction.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := a.runShutdownFns(shutdownCtx)

	a.log.Info().Msg("Graceful shutdown complete")
	return err
}

func (a *App) runShutdownFns(ctx context.Context) error {
	var errs []error
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](ctx); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
			errs = append(errs, err)
		}
	}
	a.shutdownFns = nil
	return errors.Join(errs...)
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		apisrv.WriteError(w, r, http.StatusServiceUnavailable, "database_unavailable", err.Error(), nil)
		return
	}
	apisrv.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
