// Command engine runs the mindmap trading engine: it wires
// PositionStore, PriceCache, PriceMonitor, AdmissionPipeline,
// Orchestrator, TradeExecutor, PositionWatcher, PaperLedger, and the
// dashboard broadcaster together, then serves health/status/metrics/
// websocket HTTP and drives the engine until a shutdown signal
// arrives. Grounded on cmd/server/main.go's unified-process shape:
// .env-then-flag config resolution, signal-driven graceful shutdown
// with a forced-exit fallback, and an HTTP server for health/metrics/
// status running alongside the long-lived workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mindmaptrader/internal/admission"
	"mindmaptrader/internal/config"
	"mindmaptrader/internal/dashboard"
	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/events"
	"mindmaptrader/internal/executor"
	"mindmaptrader/internal/observability"
	"mindmaptrader/internal/oracle"
	"mindmaptrader/internal/orchestrator"
	"mindmaptrader/internal/paperledger"
	"mindmaptrader/internal/position"
	"mindmaptrader/internal/prediction"
	"mindmaptrader/internal/pricecache"
	"mindmaptrader/internal/pricemonitor"
	"mindmaptrader/internal/storage/migrations"
	"mindmaptrader/internal/storage/postgres"
	"mindmaptrader/internal/swap"
	"mindmaptrader/internal/watcher"
)

// nativeQuote is the blockchain's wrapped native asset sentinel (spec
// GLOSSARY "Native quote"); the engine never opens a position in it.
const nativeQuote = domain.TokenId("So11111111111111111111111111111111111111112")

const pidFile = "engine.pid"

func main() {
	cmd := "start"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "start":
		runStart(os.Args[2:])
	case "stop":
		runStop(os.Args[2:])
	case "reset-paper-trading":
		runResetPaperTrading(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (expected start|stop|reset-paper-trading|verify)\n", cmd)
		os.Exit(1)
	}
}

// runStart boots the full engine and blocks until shutdown (spec §6
// CLI surface "start"; exit codes: 0 normal, 1 fatal startup/shutdown
// error, per spec §6).
func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("ENGINE_CONFIG"), "path to YAML config file")
	httpAddr := fs.String("http-addr", ":8090", "health/metrics/status/dashboard HTTP address")
	fs.Parse(args)

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config load failed: %v", err)
	}

	if err := writePIDFile(); err != nil {
		logger.Printf("warning: could not write pidfile: %v", err)
	}
	defer os.Remove(pidFile)

	eng, cleanup, err := buildEngine(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("engine build failed: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	eng.registerHTTP(mux)
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		logger.Printf("http server listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	sig := <-sigCh
	logger.Printf("received signal %v, draining in-flight operations", sig)
	cancel()

	// Hard 10s shutdown deadline (spec §7): a stuck drain forces a
	// disconnect rather than hanging the process indefinitely.
	select {
	case <-done:
		logger.Println("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Println("shutdown deadline exceeded, forcing disconnect")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// runStop signals a running engine process to shut down via its
// pidfile (spec §6 CLI surface "stop").
func runStop(_ []string) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running engine found (%v)\n", err)
		os.Exit(1)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "malformed pidfile: %v\n", err)
		os.Exit(1)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process %d not found: %v\n", pid, err)
		os.Exit(1)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal process %d: %v\n", pid, err)
		os.Exit(1)
	}
	fmt.Printf("sent SIGTERM to engine process %d\n", pid)
}

// runResetPaperTrading hits the running engine's admin endpoint to
// reset the PaperLedger (spec §6 CLI surface "reset-paper-trading").
func runResetPaperTrading(args []string) {
	fs := flag.NewFlagSet("reset-paper-trading", flag.ExitOnError)
	httpAddr := fs.String("http-addr", "http://localhost:8090", "engine admin HTTP address")
	fs.Parse(args)

	resp, err := http.Post(*httpAddr+"/admin/reset-paper-trading", "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reset request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "reset request returned %s\n", resp.Status)
		os.Exit(1)
	}
	fmt.Println("paper trading ledger reset")
}

// runVerify validates configuration and exits non-zero on any failure,
// without starting any long-running worker (spec §6 CLI surface
// "verify").
func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("ENGINE_CONFIG"), "path to YAML config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}

	if !cfg.Simulation.Enabled && cfg.Store.URL == "" {
		fmt.Fprintln(os.Stderr, "store.url is required when simulation.enabled is false")
		os.Exit(1)
	}

	if !cfg.Simulation.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool, err := postgres.NewPool(ctx, cfg.Store.URL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "store connectivity check failed: %v\n", err)
			os.Exit(1)
		}
		pool.Close()
	}

	fmt.Println("configuration OK")
}

func writePIDFile() error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// riskConfigFromYAML adapts the YAML-shaped config.RiskConfig into
// executor.RiskConfig's pointer-field shape.
func riskConfigFromYAML(r config.RiskConfig) executor.RiskConfig {
	rc := executor.RiskConfig{
		TrailingStopPct:     r.TrailingStopPct,
		TrailingStopEnabled: r.TrailingStopEnabled,
		MaxHoldMinutes:      r.MaxHoldMinutes,
	}
	if r.TakeProfitPct != 0 {
		v := r.TakeProfitPct
		rc.TakeProfitPct = &v
	}
	if r.StopLossPct != 0 {
		v := r.StopLossPct
		rc.StopLossPct = &v
	}
	return rc
}

func filterConfigFromYAML(f config.FilterConfig) admission.FilterConfig {
	return admission.FilterConfig{
		MinTradeVolume:     f.MinTradeVolume,
		MinConnectedActors: f.MinConnectedActors,
		MinInfluenceScore:  f.MinInfluenceScore,
		MinTotalTrades:     f.MinTotalTrades,
		MinViralVelocity:   f.MinViralVelocity,
		RequireSmartMoney:  f.RequireSmartMoney,
		MinConsensusScore:  f.MinConsensusScore,
		MinMarketCapUsd:    f.MinMarketCapUsd,
		MinLiquidityUsd:    f.MinLiquidityUsd,
	}
}

// fixedFeeSampler is a deterministic FeeSampler stand-in for the RPC
// fee-sample query the real swap backend would expose (out of scope
// per spec §1: "the swap execution backend" is an opaque collaborator).
type fixedFeeSampler struct{ samples []float64 }

func (f fixedFeeSampler) RecentFees(context.Context) ([]float64, error) { return f.samples, nil }

// passthroughBalance approves every buy, standing in for a real wallet
// balance query when the engine is not in simulation mode (spec §1
// scopes wallet/signing mechanics out of the core).
type passthroughBalance struct{}

func (passthroughBalance) CheckBalance(context.Context, float64) (bool, error) { return true, nil }

// engine holds every wired component plus the HTTP surface.
type engine struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *observability.Metrics

	store   *position.Store
	cache   *pricecache.Cache
	ledger  *paperledger.Ledger
	monitor *pricemonitor.Monitor
	watch   *watcher.Watcher
	orch    *orchestrator.Orchestrator
	board   *dashboard.Broadcaster

	boardStop chan struct{}
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engine, func(), error) {
	metrics := observability.NewMetrics("mindmaptrader")

	store := position.New().WithMetrics(metrics)
	cache := pricecache.New().WithMetrics(metrics)

	cleanup := func() {}
	if !cfg.Simulation.Enabled && cfg.Store.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Store.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect position store: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		persister := postgres.NewPositionStore(pool)
		store.SetPersister(persister, logger)
		if err := store.LoadFromPersister(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("load positions from store: %w", err)
		}
		cleanup = func() { pool.Close() }
	}

	ledger := paperledger.New(nativeQuote, cfg.Simulation.InitialBalance)

	priceOracle := oracle.NewStub()
	predClient := prediction.NewStub()
	swapBackend := swap.NewStub()

	filter := admission.NewFilterEngine(filterConfigFromYAML(cfg.Filter), nativeQuote, priceOracle, nil, nil).WithMetrics(metrics)
	predGate := admission.NewPredictionClient(predClient, logger).WithMetrics(metrics)
	pipeline := admission.NewPipeline(filter, predGate)

	var balances executor.BalanceChecker = passthroughBalance{}
	if cfg.Simulation.Enabled {
		balances = paperledger.NewBalanceChecker(ledger, nativeQuote)
	}

	lock := executor.NewInMemoryLock()
	fees := fixedFeeSampler{samples: []float64{0.0005, 0.0008, 0.001, 0.0012}}

	risk := riskConfigFromYAML(cfg.Risk)

	stream := events.NewFanIn()
	orch := orchestrator.New(stream, pipeline, nil, risk, cfg.Trading.BuyAmount, nativeQuote, logger)
	exec := executor.New(store, swapBackend, balances, lock, fees, orch, logger).WithSimulation(cfg.Simulation.Enabled).WithMetrics(metrics)
	monitor := pricemonitor.New(cache, priceOracle, rate.Limit(5), logger).WithMetrics(metrics)
	watch := watcher.New(store, cache, swapBackend, logger).WithMetrics(metrics)
	if cfg.Simulation.Enabled {
		exec = exec.WithPaperLedger(ledger, nativeQuote)
		watch = watch.WithPaperLedger(ledger, nativeQuote)
	}
	orch.SetExecutor(exec)

	board := dashboard.New(logger)

	e := &engine{
		cfg: cfg, logger: logger, metrics: metrics,
		store: store, cache: cache, ledger: ledger,
		monitor: monitor, watch: watch, orch: orch, board: board,
		boardStop: make(chan struct{}),
	}
	return e, cleanup, nil
}

// Run launches every long-running worker under an errgroup.Group and
// blocks until ctx is cancelled and all workers have returned (spec
// §5: three long-running workers plus a fourth owning outbound
// broadcasting), grounded on pricemonitor.Monitor.Run's errgroup
// coordination of its fast/slow loops.
func (e *engine) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { e.orch.Run(gctx); return nil })
	g.Go(func() error { e.monitor.Run(gctx); return nil })
	g.Go(func() error { e.watch.Run(gctx); return nil })
	g.Go(func() error {
		<-gctx.Done()
		close(e.boardStop)
		return nil
	})
	g.Go(func() error { e.board.Run(e.boardStop, e.store); return nil })

	g.Wait()
}

func (e *engine) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", e.handleStatus)
	mux.HandleFunc("/admin/reset-paper-trading", e.handleResetPaperTrading)
	mux.Handle("/ws", e.board)
}

func (e *engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := e.store.StatsSnapshot()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"positionsOpen":%d,"positionsClosed":%d,"positionsTotal":%d,"simulation":%v}`,
		stats.Open, stats.Closed, stats.Total, e.cfg.Simulation.Enabled)
}

func (e *engine) handleResetPaperTrading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !e.cfg.Simulation.Enabled {
		http.Error(w, "simulation mode is not enabled", http.StatusBadRequest)
		return
	}
	e.ledger.Reset()
	w.WriteHeader(http.StatusOK)
}
