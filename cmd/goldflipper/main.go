// Command goldflipper runs the play-based options trading engine.
//
// Subcommands:
//
//	run       start the orchestrated trading loop (default)
//	once      run a single cycle and exit
//	status    print play-state counts and exit
//	validate  validate config and every play file, then exit
//	dry-run   like run, but orders are logged instead of submitted
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/config"
	"github.com/Zaroganos/goldflipper/internal/evaluator"
	"github.com/Zaroganos/goldflipper/internal/executor"
	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/Zaroganos/goldflipper/internal/orchestrator"
	"github.com/Zaroganos/goldflipper/internal/playstore"
	"github.com/Zaroganos/goldflipper/internal/risk"
	"github.com/Zaroganos/goldflipper/internal/statusapi"
	"github.com/Zaroganos/goldflipper/internal/strategy"
	"github.com/Zaroganos/goldflipper/internal/trailing"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Exit codes for scripts and supervisors.
const (
	exitOK         = 0
	exitConfig     = 1
	exitValidation = 2
	exitBrokerAuth = 3
	exitInternal   = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Optional .env for local development; real deployments export directly.
	_ = godotenv.Load()

	command := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("goldflipper", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (default <data root>/config.yaml)")
	dryRun := fs.Bool("dry-run", false, "log intended orders without submitting them")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)

	dataRoot := os.Getenv("GOLDFLIPPER_HOME")
	if dataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Printf("Cannot resolve home directory: %v", err)
			return exitConfig
		}
		dataRoot = filepath.Join(home, ".goldflipper")
	}

	path := *configPath
	if path == "" {
		path = filepath.Join(dataRoot, "config.yaml")
		created, err := config.EnsureDefault(path)
		if err != nil {
			logger.Printf("Config bootstrap failed: %v", err)
			return exitConfig
		}
		if created {
			logger.Printf("Wrote starter config to %s; edit it and restart", path)
			return exitOK
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Printf("Failed to load config: %v", err)
		return exitConfig
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = dataRoot
	}

	switch command {
	case "run":
		return runLoop(cfg, logger, *dryRun, false)
	case "dry-run":
		return runLoop(cfg, logger, true, false)
	case "once":
		return runLoop(cfg, logger, *dryRun, true)
	case "status":
		return printStatus(cfg, logger)
	case "validate":
		return validatePlays(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (run, once, status, validate, dry-run)\n", command)
		return exitConfig
	}
}

// app bundles the wired engine for the run/once paths.
type app struct {
	cfg     *config.Config
	clock   *marketclock.Clock
	store   *playstore.FileStore
	gateway *marketdata.Gateway
	broker  broker.Broker
	exec    *executor.Executor
	runners []strategy.Runner
	orch    *orchestrator.Orchestrator
	logger  *log.Logger
}

func buildClock(cfg *config.Config) (*marketclock.Clock, error) {
	var opts []marketclock.Option
	if len(cfg.Market.Holidays) > 0 || len(cfg.Market.EarlyCloses) > 0 {
		opts = append(opts, marketclock.WithHolidays(cfg.Market.Holidays, cfg.Market.EarlyCloses))
	}
	return marketclock.New(cfg.Market.Timezone, opts...)
}

func buildStore(cfg *config.Config, logger *log.Logger) (*playstore.FileStore, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	return playstore.New(filepath.Join(dataDir, "plays"), logger)
}

func buildApp(cfg *config.Config, logger *log.Logger, dryRun bool) (*app, error) {
	clock, err := buildClock(cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	var providers []marketdata.Provider
	for _, p := range cfg.MarketData.EnabledProviders() {
		switch p.Name {
		case "tradier":
			providers = append(providers, marketdata.NewTradierProvider(p.Name, p.BaseURL, p.APIKey))
		case "marketdataapp":
			providers = append(providers, marketdata.NewMarketDataAppProvider(p.Name, p.BaseURL, p.APIKey))
		}
	}
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	gateway, err := marketdata.NewGateway(providers, clock, nil, filepath.Join(dataDir, "cache"))
	if err != nil {
		return nil, err
	}

	account, err := cfg.Broker.Account()
	if err != nil {
		return nil, err
	}
	tradier := broker.NewTradierBroker(account.Name, account.APIKey, account.AccountID, account.Sandbox)
	guarded := broker.NewCircuitBreakerBroker(tradier, nil)

	gate := risk.NewGate(risk.Limits{
		MaxNotionalLeverage:  cfg.Risk.MaxNotionalLeverage,
		MaxCapitalAllocation: cfg.Risk.MaxCapitalAllocation,
		MaxOpenPlays:         cfg.Risk.MaxOpenPlays,
	})

	exec := executor.New(store, guarded, gateway, gate, clock, nil, executor.Options{
		DryRun: dryRun || cfg.Orchestration.DryRun,
	})

	env := &strategy.Env{
		Store:     store,
		Data:      gateway,
		Executor:  exec,
		Evaluator: evaluator.New(clock),
		Trailing:  trailing.NewManager(gateway, nil),
		Clock:     clock,
		Logger:    logger,
	}

	tags := make([]string, 0, len(cfg.Strategies))
	for tag := range cfg.Strategies {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	var runners []strategy.Runner
	for _, tag := range tags {
		sc := cfg.Strategies[tag]
		if !sc.Enabled {
			continue
		}
		r, err := strategy.Build(tag, env, sc.Enabled, sc.Params)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", tag, err)
		}
		runners = append(runners, r)
	}
	if len(runners) == 0 {
		return nil, fmt.Errorf("no strategies enabled")
	}

	orch := orchestrator.New(runners, exec, clock, nil, orchestrator.Config{
		Mode:               orchestrator.Mode(cfg.Orchestration.Mode),
		MaxParallelWorkers: cfg.Orchestration.MaxParallelWorkers,
		TickInterval:       cfg.TickInterval(),
		FallbackToLegacy:   cfg.Orchestration.FallbackToLegacy,
	})

	return &app{
		cfg:     cfg,
		clock:   clock,
		store:   store,
		gateway: gateway,
		broker:  guarded,
		exec:    exec,
		runners: runners,
		orch:    orch,
		logger:  logger,
	}, nil
}

// verifyBroker confirms the account is reachable before any trading starts.
func verifyBroker(ctx context.Context, a *app) (int, error) {
	balances, err := a.broker.GetAccount(ctx)
	if err != nil {
		var apiErr *broker.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403) {
			return exitBrokerAuth, fmt.Errorf("broker authentication failed: %w", err)
		}
		return exitInternal, fmt.Errorf("broker unreachable: %w", err)
	}
	a.logger.Printf("Broker connected: equity=%s option_bp=%s",
		balances.TotalEquity, balances.OptionBuyingPower)
	return exitOK, nil
}

func runLoop(cfg *config.Config, logger *log.Logger, dryRun, once bool) int {
	a, err := buildApp(cfg, logger, dryRun)
	if err != nil {
		logger.Printf("Failed to wire engine: %v", err)
		return exitConfig
	}

	if dryRun || cfg.Orchestration.DryRun {
		logger.Println("DRY RUN MODE - orders are logged, not submitted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifyCtx, verifyCancel := context.WithTimeout(ctx, 30*time.Second)
	code, err := verifyBroker(verifyCtx, a)
	verifyCancel()
	if err != nil {
		logger.Printf("%v", err)
		return code
	}

	if once {
		if err := a.orch.RunCycle(ctx); err != nil {
			logger.Printf("Cycle failed: %v", err)
			return exitInternal
		}
		return exitOK
	}

	// Status API serves operators for the life of the loop.
	apiLogger := logrus.New()
	server := statusapi.NewServer(statusapi.Config{
		Port:      cfg.Monitoring.StatusPort,
		AuthToken: cfg.Monitoring.StatusAuthToken,
	}, a.store, a.gateway, a.orch, a.clock, apiLogger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Printf("Status API error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Status API shutdown: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, finishing current cycle...")
		cancel()
	}()

	if err := a.orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("Orchestrator error: %v", err)
		return exitInternal
	}
	logger.Println("Stopped")
	return exitOK
}

func printStatus(cfg *config.Config, logger *log.Logger) int {
	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Printf("Failed to open play store: %v", err)
		return exitConfig
	}
	counts := store.Counts()
	for _, state := range models.AllStates {
		fmt.Printf("%-16s %d\n", state, counts[state])
	}
	fmt.Printf("%-16s %d\n", "quarantined", store.QuarantineCount())
	return exitOK
}

// validatePlays checks every play file in every state directory. Invalid
// plays are reported but not quarantined; the operator decides what to do.
func validatePlays(cfg *config.Config, logger *log.Logger) int {
	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Printf("Failed to open play store: %v", err)
		return exitConfig
	}

	bad := 0
	total := 0
	for _, state := range models.AllStates {
		ids, err := store.List(state)
		if err != nil {
			logger.Printf("Listing %s plays: %v", state, err)
			return exitInternal
		}
		for _, id := range ids {
			total++
			play, err := store.Load(id)
			if err != nil {
				fmt.Printf("FAIL %s (%s): %v\n", id, state, err)
				bad++
				continue
			}
			if err := play.Validate(); err != nil {
				fmt.Printf("FAIL %s (%s): %v\n", id, state, err)
				bad++
			}
		}
	}
	fmt.Printf("%d plays checked, %d invalid\n", total, bad)
	if bad > 0 {
		return exitValidation
	}
	return exitOK
}
