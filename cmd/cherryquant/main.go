// Command cherryquant runs the full trading stack: market cache, risk
// manager, agent fleet, decision journal, operator API, and metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nehcuh/cherryquant/internal/alerts"
	"github.com/nehcuh/cherryquant/internal/api"
	"github.com/nehcuh/cherryquant/internal/broker"
	"github.com/nehcuh/cherryquant/internal/config"
	"github.com/nehcuh/cherryquant/internal/db"
	"github.com/nehcuh/cherryquant/internal/journal"
	"github.com/nehcuh/cherryquant/internal/llm"
	"github.com/nehcuh/cherryquant/internal/manager"
	"github.com/nehcuh/cherryquant/internal/market"
	"github.com/nehcuh/cherryquant/internal/metrics"
	"github.com/nehcuh/cherryquant/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cherryquant: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log := config.NewLogger("main")

	pools, err := config.LoadPools(cfg.Trading.PoolsFile)
	if err != nil {
		return fmt.Errorf("load commodity pools: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// PostgreSQL is optional: without it the journal keeps records in
	// memory only and strategies are not replayed across restarts.
	var (
		database *db.DB
		store    *db.StrategyRepository
	)
	if database, err = db.New(ctx, cfg.Database, log); err != nil {
		log.Warn().Err(err).Msg("Database unavailable, running without persistence")
		database = nil
	} else {
		defer database.Close()
		if err := db.NewMigrator(database.Pool(), log).Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		store = db.NewStrategyRepository(database.Pool(), log)
	}

	var nc *nats.Conn
	if nc, err = nats.Connect(cfg.NATS.URL, nats.Name(cfg.App.Name)); err != nil {
		log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, decision streaming disabled")
		nc = nil
	} else {
		defer nc.Close()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	source := market.NewCachedSource(
		market.NewSimSource(),
		redisClient,
		time.Duration(cfg.Redis.CacheTTL)*time.Second,
		log,
	)

	var client llm.Client
	if cfg.LLM.Endpoint != "" && cfg.LLM.APIKey != "" {
		client = llm.NewHTTPClient(llm.HTTPClientConfig{
			Endpoint:   cfg.LLM.Endpoint,
			APIKey:     cfg.LLM.APIKey,
			Timeout:    time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
			MaxRetries: cfg.LLM.MaxRetries,
		}, log)
	} else {
		log.Warn().Msg("No LLM API key configured, engines run simulated")
	}
	budget := llm.NewBudget(cfg.LLM.BudgetPerMinute)

	alertMgr := newAlertManager(cfg.Alerts, log)

	riskMgr := risk.NewManager(cfg.Risk, pools, alertMgr, log)
	if err := riskMgr.Start(); err != nil {
		return fmt.Errorf("start risk manager: %w", err)
	}
	defer riskMgr.Stop()

	var journalDB journal.DB
	if database != nil {
		journalDB = database.Pool()
	}
	jrn := journal.New(journalDB, nc, journal.Config{Subject: cfg.NATS.DecisionTopic}, log)
	defer jrn.Close()

	paper := broker.NewPaperBroker(log)
	defer paper.Close()
	submitter := broker.NewSubmitter(paper, broker.DefaultRetryConfig(), log)

	mgr := manager.NewManager(cfg.Trading, cfg.LLM, cfg.Risk.DailyResetSpec, manager.Deps{
		Market:  source,
		Client:  client,
		Budget:  budget,
		Risk:    riskMgr,
		Broker:  paper,
		Orders:  submitter,
		Journal: jrn,
		Alerts:  alertMgr,
		Pools:   pools,
	}, log)
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start agent manager: %w", err)
	}
	defer mgr.Stop()

	if store != nil {
		restoreStrategies(ctx, mgr, store, log)
	}

	if database != nil {
		recorder := db.NewSnapshotRecorder(database.Pool(), riskMgr, time.Minute, log)
		recorder.Start()
		defer recorder.Stop()
	}

	if cfg.Monitoring.EnableMetrics {
		metricsSrv := metrics.NewServer(cfg.Monitoring.PrometheusPort, log)
		metricsSrv.Start()
		defer metricsSrv.Shutdown(context.Background())

		updater := metrics.NewUpdater(mgr, riskMgr, nc, cfg.NATS.DecisionTopic, 15*time.Second, log)
		if err := updater.Start(); err != nil {
			return fmt.Errorf("start metrics updater: %w", err)
		}
		defer updater.Stop()
	}

	apiSrv := api.NewServer(cfg.API, api.Deps{
		Manager: mgr,
		Risk:    riskMgr,
		Journal: jrn,
		Store:   store,
		NATS:    nc,
		Subject: cfg.NATS.DecisionTopic,
		Pools:   pools,
	}, log)

	log.Info().
		Str("environment", cfg.App.Environment).
		Int("api_port", cfg.API.Port).
		Msg("CherryQuant started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiSrv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		grace := time.Duration(cfg.API.ShutdownGraceSec) * time.Second
		if grace <= 0 {
			grace = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return apiSrv.Stop(shutdownCtx)
	})
	return g.Wait()
}

func newAlertManager(cfg config.AlertsConfig, log zerolog.Logger) *alerts.Manager {
	sinks := []alerts.Sink{alerts.NewLogSink(log)}
	if cfg.TelegramEnabled {
		sink, err := alerts.NewTelegramSink(cfg.TelegramToken, []int64{cfg.TelegramChatID}, alerts.SeverityWarning, log)
		if err != nil {
			log.Error().Err(err).Msg("Telegram sink unavailable")
		} else {
			sinks = append(sinks, sink)
		}
	}
	return alerts.NewManager(log, sinks...)
}

// restoreStrategies replays the active strategy rows into the fleet at
// startup. A bad row is logged and skipped, never fatal.
func restoreStrategies(ctx context.Context, mgr *manager.Manager, store *db.StrategyRepository, log zerolog.Logger) {
	configs, err := store.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Strategy replay failed")
		return
	}
	restored := 0
	for _, sc := range configs {
		if _, err := mgr.CreateAgent(ctx, sc); err != nil {
			log.Error().Err(err).Str("strategy_id", sc.StrategyID).Msg("Strategy replay skipped")
			continue
		}
		restored++
	}
	if restored > 0 {
		log.Info().Int("count", restored).Msg("Strategies restored from database")
	}
}
