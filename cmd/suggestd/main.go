package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suggestd/suggestd/pkg/analytics"
	"github.com/suggestd/suggestd/pkg/api"
	"github.com/suggestd/suggestd/pkg/calendar"
	"github.com/suggestd/suggestd/pkg/config"
	"github.com/suggestd/suggestd/pkg/decision"
	"github.com/suggestd/suggestd/pkg/learning"
	"github.com/suggestd/suggestd/pkg/logx"
	"github.com/suggestd/suggestd/pkg/metrics"
	"github.com/suggestd/suggestd/pkg/mqtt"
	"github.com/suggestd/suggestd/pkg/pidfile"
	"github.com/suggestd/suggestd/pkg/rules"
	"github.com/suggestd/suggestd/pkg/schedule"
	"github.com/suggestd/suggestd/pkg/store"
	"github.com/suggestd/suggestd/pkg/telem"
	"github.com/suggestd/suggestd/pkg/timing"
)

var (
	configPath = flag.String("config", "/etc/suggestd/config.json", "Path to configuration file")
	pidPath    = flag.String("pid-file", "/tmp/suggestd.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error|trace)")
	version    = flag.Bool("version", false, "Show version information")
	force      = flag.Bool("force", false, "Force start by removing stale PID file")
)

const (
	AppName    = "suggestd"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logx.NewLogger(cfg.LogLevel, AppName)

	pidFile := pidfile.New(*pidPath)
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("Failed to check for running instance", "error", err)
		os.Exit(1)
	}
	if running {
		if *force {
			logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
			if err := pidFile.ForceRemove(); err != nil {
				logger.Error("Failed to remove existing PID file", "error", err)
				os.Exit(1)
			}
		} else {
			logger.Error("Another instance is already running", "existing_pid", existingPID, "pid_file", *pidPath)
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			os.Exit(1)
		}
	}
	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	logger.Info("Starting suggestd", "version", AppVersion, "pid", os.Getpid(), "config", *configPath)

	// Persistent stores
	db, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("Failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer db.Close()

	timingStore, err := timing.Open(cfg.TimingDBPath, logger)
	if err != nil {
		logger.Error("Failed to open timing store", "error", err, "path", cfg.TimingDBPath)
		os.Exit(1)
	}
	defer timingStore.Close()

	// Rule catalog, write-through to SQLite
	ruleStore := rules.NewStore(db, logger)
	if err := ruleStore.LoadFromPersistence(); err != nil {
		logger.Error("Failed to load rule catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("Rule catalog loaded", "active_rules", len(ruleStore.ListActive()), "total_rules", len(ruleStore.ListAll()))

	// In-RAM audit trail, doubles as an event sink
	audit, err := telem.NewStore(cfg.RetentionHours, cfg.MaxRAMMB)
	if err != nil {
		logger.Error("Failed to initialize audit store", "error", err)
		os.Exit(1)
	}

	// Inference pipeline
	engine := decision.NewEngine(
		ruleStore,
		rules.NewMatcher(logger),
		timingStore,
		schedule.NewOptimizer(cfg.MaxSearchNodes, logger),
		cfg.LeadTimes,
		cfg.SuggestionThreshold,
		logger,
	)
	engine.AddSink(audit)

	learningSvc := learning.NewService(ruleStore, timingStore, db, logger)
	learningSvc.AddSink(audit)

	// MQTT event publishing is optional
	var mqttClient *mqtt.Client
	if cfg.MQTTEnabled {
		mqttClient = mqtt.NewClient(&mqtt.Config{
			Enabled:     true,
			Broker:      cfg.MQTTBroker,
			Port:        cfg.MQTTPort,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         cfg.MQTTQoS,
		}, logger)
		if err := mqttClient.Connect(); err != nil {
			logger.Warn("Failed to connect to MQTT broker", "error", err)
		} else {
			engine.AddSink(mqttClient)
			learningSvc.AddSink(mqttClient)
			defer mqttClient.Close()
		}
	}

	// Calendar ingestion with optional travel-time estimation
	var estimator calendar.TravelEstimator
	if cfg.MapsAPIKey != "" {
		mapsEstimator, err := calendar.NewMapsEstimator(cfg.MapsAPIKey)
		if err != nil {
			logger.Warn("Failed to initialize travel estimator", "error", err)
		} else {
			estimator = mapsEstimator
			logger.Info("Travel-time estimation enabled", "origin", cfg.HomeLocation)
		}
	}
	ingestor := calendar.NewIngestor(ruleStore, estimator, cfg.HomeLocation, cfg.LeadTimes, logger)

	analyzer := analytics.NewAnalyzer(ruleStore, db, logger)

	var metricsServer *metrics.Server
	if cfg.MetricsListener {
		metricsServer = metrics.NewServer(logger)
		if err := metricsServer.Start(cfg.MetricsPort); err != nil {
			logger.Error("Failed to start metrics server", "error", err)
			os.Exit(1)
		}
		metricsServer.SetActiveRules(len(ruleStore.ListActive()))
	}

	var apiServer *api.Server
	if cfg.APIListener {
		apiServer = api.NewServer(
			api.Config{
				Host:         cfg.APIHost,
				Port:         cfg.APIPort,
				AuthKeyHash:  cfg.APIAuthKeyHash,
				EnableSearch: cfg.EnableSearch,
			},
			engine, learningSvc, ruleStore, timingStore, ingestor, analyzer, audit, db, metricsServer, logger,
		)
		if err := apiServer.Start(); err != nil {
			logger.Error("Failed to start API server", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runMaintenanceLoop(ctx, cfg, audit, db, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn("API server shutdown failed", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	logger.Info("Shutdown complete")
}

// runMaintenanceLoop prunes the in-RAM audit trail and the persisted
// context snapshots on their retention schedule.
func runMaintenanceLoop(ctx context.Context, cfg *config.Config, audit *telem.Store, db *store.DB, logger *logx.Logger) {
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Maintenance loop stopped")
			return

		case <-cleanupTicker.C:
			audit.Cleanup()

			cutoff := time.Now().Add(-time.Duration(cfg.RetentionHours) * time.Hour)
			pruned, err := db.PruneContexts(cutoff)
			if err != nil {
				logger.Warn("Context snapshot pruning failed", "error", err)
			} else if pruned > 0 {
				logger.Debug("Pruned context snapshots", "count", pruned, "cutoff", cutoff.Format(time.RFC3339))
			}
			logger.Debug("Maintenance pass complete", "audit_ram_mb", audit.MemoryUsageMB())
		}
	}
}
