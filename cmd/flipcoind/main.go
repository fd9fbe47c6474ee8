// flipcoind runs the coin-flip wager service: the bet engine behind its HTTP API, the randomness
// oracle adapter, persistence, event sinks and metrics.
//
// Usage:
//
//	flipcoind -config flipcoin.json
//
// A missing config file is created with defaults. FLIPCOIN_* environment variables override it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"flipcoin/internal/api"
	"flipcoin/internal/config"
	"flipcoin/internal/events"
	"flipcoin/internal/fairness"
	"flipcoin/internal/health"
	"flipcoin/internal/house"
	"flipcoin/internal/logger"
	"flipcoin/internal/metrics"
	"flipcoin/internal/oracle"
	"flipcoin/internal/settlement"
	"flipcoin/internal/store"
	"flipcoin/internal/store/postgres"
	"flipcoin/internal/verifier"
	"flipcoin/internal/wager"
	"flipcoin/p2p"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "flipcoin.json", "path to the JSON configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "flipcoind: %v\n", err)
		os.Exit(1)
	}
}

// closer collects shutdown steps and runs them in reverse order.
type closer []func()

func (c *closer) add(f func()) { *c = append(*c, f) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New("flipcoind", cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	logger.BridgeCircuitLogs(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closer
	defer cleanup.run()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	checker := health.NewChecker(version)

	bets, err := openStore(ctx, cfg, log, checker, &cleanup)
	if err != nil {
		return err
	}

	bus := events.NewBus(log)
	publisher := events.NewQueue(m.Publisher(openPublishers(cfg, log, bus, checker, &cleanup)), log)
	cleanup.add(func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
		defer cancel()
		if err := publisher.Close(drainCtx); err != nil {
			log.Warn("event queue not drained", zap.Int("pending", publisher.Len()), zap.Error(err))
		}
	})

	resolver, prover, err := buildResolver(cfg, m, log)
	if err != nil {
		return err
	}

	adapter := openOracle(cfg, log, &cleanup)
	adapter.SetObserver(m)

	vault := settlement.NewVault()
	minBet, maxBet := cfg.BetLimits()
	engine, err := wager.NewEngine(wager.Options{
		Admin:               cfg.AdminAddress(),
		Oracle:              adapter.Address(),
		Params:              wager.Params{MinBet: minBet, MaxBet: maxBet, HouseFeeBP: cfg.Game.HouseFeeBP},
		FeeCeilingBP:        cfg.Game.FeeCeilingBP,
		AllowTestRandomness: cfg.Oracle.AllowTestRandomness,
		Resolver:            resolver,
		Bank:                vault,
		Store:               bets,
		Randomness:          adapter,
		Publisher:           publisher,
		Recorder:            m,
		Log:                 log,
	})
	if err != nil {
		return err
	}
	adapter.Attach(engine)

	restored, err := engine.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore bets: %w", err)
	}
	log.Info("bets restored", zap.Int("count", restored), zap.Int("pending_randomness", adapter.Pending()))

	if cfg.P2P.ListenAddr != "" {
		agent := house.NewAgent(cfg.HouseAccount(), engine, prover, m, log)
		bus.Subscribe(events.TypeBetCreated, agent.OnBetCreated)
		node := p2p.NewNode(cfg.P2P.NodeID, cfg.P2P.ListenAddr, nil, cfg.Timeout(), log)
		node.RegisterHandler(p2p.TypePreimageReveal, agent.HandleReveal)
		if err := node.StartServer(); err != nil {
			return err
		}
		cleanup.add(func() { shutdown(log, "p2p", node.Shutdown) })
		log.Info("house agent enabled", zap.Stringer("account", agent.Account()))
	}

	apiOpts := api.Options{
		OracleToken:       cfg.Oracle.Token,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Timeout:           cfg.Timeout(),
	}
	if cfg.Oracle.AllowTestRandomness {
		apiOpts.Vault = vault
		log.Warn("test mode: direct randomness and dev funding routes are enabled")
	}
	server := api.NewServer(log, engine, adapter, apiOpts)
	go pruneLimiters(ctx, server)

	metricsSrv := metrics.StartServer(cfg.MetricsAddr, reg, checker.Err, log)
	cleanup.add(func() { shutdown(log, "metrics", metricsSrv.Shutdown) })

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("flipcoind listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("variant", string(engine.Variant())),
			zap.String("store", cfg.Store.Driver),
			zap.String("oracle", cfg.Oracle.Mode),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	shutdown(log, "http", httpSrv.Shutdown)
	return nil
}

func shutdown(log *zap.Logger, name string, f func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f(ctx); err != nil {
		log.Warn("shutdown failed", zap.String("component", name), zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger, checker *health.Checker, cleanup *closer) (wager.Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		if err := postgres.Migrate(cfg.Store.DatabaseURL); err != nil {
			return nil, err
		}
		pg, err := postgres.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		cleanup.add(pg.Close)
		checker.Register("store", true, pg.Ping)
		return pg, nil
	case config.StoreFile:
		ledger, err := store.OpenLedger(cfg.Store.LedgerPath)
		if err != nil {
			return nil, err
		}
		checker.Register("store", true, ledger.Ping)
		return ledger, nil
	default:
		log.Warn("bets are kept in memory only")
		return wager.NewMemoryStore(), nil
	}
}

func openPublishers(cfg *config.Config, log *zap.Logger, bus *events.Bus, checker *health.Checker, cleanup *closer) events.Publisher {
	fan := events.Fanout{events.NewLogPublisher(log), bus}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic), log)
		cleanup.add(func() {
			if err := kp.Close(); err != nil {
				log.Warn("close kafka writer", zap.Error(err))
			}
		})
		fan = append(fan, kp)
	}
	if cfg.Events.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
		cleanup.add(func() { _ = rdb.Close() })
		checker.Register("redis", false, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		fan = append(fan, events.NewRedisPublisher(rdb, cfg.Events.RedisChannel))
	}
	return fan
}

// buildResolver compiles the fairness circuit and loads its keys for the proof variant.
func buildResolver(cfg *config.Config, m *metrics.Collectors, log *zap.Logger) (wager.Resolver, house.Prover, error) {
	if cfg.Game.Variant == config.VariantReveal {
		return wager.NewRevealResolver(), nil, nil
	}
	start := time.Now()
	ccs, err := fairness.Compile()
	if err != nil {
		return nil, nil, err
	}
	m.ObserveCompile(time.Since(start))
	log.Info("fairness circuit compiled", zap.Int("constraints", ccs.GetNbConstraints()), zap.Duration("took", time.Since(start)))

	pk, vk, err := fairness.SetupOrLoadKeys(ccs, cfg.KeyDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load keys from %s: %w", cfg.KeyDir, err)
	}
	return wager.NewProofResolver(verifier.New(vk, m)), fairness.NewProver(ccs, pk), nil
}

func openOracle(cfg *config.Config, log *zap.Logger, cleanup *closer) *oracle.Adapter {
	if cfg.Oracle.Mode == config.OracleHTTP {
		coord := oracle.NewHTTPCoordinator(cfg.Oracle.ServiceURL, cfg.Oracle.CallbackURL, cfg.Timeout())
		return oracle.NewAdapter(cfg.OracleAddress(), coord, log)
	}
	coord := oracle.NewLocalCoordinator(time.Duration(cfg.Oracle.LocalDelayMillis)*time.Millisecond, log)
	adapter := oracle.NewAdapter(cfg.OracleAddress(), coord, log)
	coord.Bind(adapter)
	cleanup.add(func() { _ = coord.Close() })
	return adapter
}

func pruneLimiters(ctx context.Context, s *api.Server) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.PruneLimiters(now)
		}
	}
}
