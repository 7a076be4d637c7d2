package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tradecore/archive"
	"tradecore/config"
	"tradecore/exchange"
	"tradecore/exchange/binance"
	"tradecore/exchange/coinbase"
	"tradecore/exchange/kraken"
	"tradecore/level2"
	"tradecore/logger"
	"tradecore/models"
)

// exchangeEnv holds one exchange's credentials, read from the environment
// with a per-exchange prefix (BINANCE_API_KEY, COINBASE_PASSPHRASE, ...).
// Credential values are never logged.
type exchangeEnv struct {
	APIKey     string `envconfig:"API_KEY"`
	APISecret  string `envconfig:"API_SECRET"`
	Passphrase string `envconfig:"PASSPHRASE"`
}

func loadCredentials(prefix string) models.ExchangeCredentials {
	var env exchangeEnv
	_ = envconfig.Process(prefix, &env)
	return models.ExchangeCredentials{
		APIKey:     env.APIKey,
		APISecret:  env.APISecret,
		Passphrase: env.Passphrase,
	}
}

// clientOptions builds the shared HTTP tuning plus the per-exchange local
// rate budget from configuration.
func clientOptions(cfg *config.Config, exchangeName string) []exchange.ClientOption {
	opts := []exchange.ClientOption{exchange.WithTimeout(cfg.HTTP.Timeout)}
	if cfg.HTTP.Smoother.RequestsPerSecond > 0 {
		opts = append(opts, exchange.WithSmoother(cfg.HTTP.Smoother.RequestsPerSecond, cfg.HTTP.Smoother.BurstSize))
	}
	if budgets, ok := cfg.RateLimit.Exchanges[exchangeName]; ok {
		limiter := exchange.NewWindowLimiter(budgets.Budget, cfg.RateLimit.Window)
		for group, budget := range budgets.Groups {
			limiter.SetBudget(group, budget)
		}
		opts = append(opts, exchange.WithLimiter(limiter))
	}
	return opts
}

func buildAdapters(cfg *config.Config) map[string]exchange.Adapter {
	adapters := make(map[string]exchange.Adapter)

	if cfg.Exchanges.Binance.Enabled {
		opts := []binance.Option{binance.WithClientOptions(clientOptions(cfg, "binance")...)}
		if cfg.Exchanges.Binance.BaseURL != "" {
			opts = append(opts, binance.WithBaseURL(cfg.Exchanges.Binance.BaseURL))
		}
		adapters["binance"] = binance.New(loadCredentials("BINANCE"), opts...)
	}
	if cfg.Exchanges.Coinbase.Enabled {
		opts := []coinbase.Option{coinbase.WithClientOptions(clientOptions(cfg, "coinbase")...)}
		if cfg.Exchanges.Coinbase.BaseURL != "" {
			opts = append(opts, coinbase.WithBaseURL(cfg.Exchanges.Coinbase.BaseURL))
		}
		adapters["coinbase"] = coinbase.New(loadCredentials("COINBASE"), opts...)
	}
	if cfg.Exchanges.Kraken.Enabled {
		opts := []kraken.Option{kraken.WithClientOptions(clientOptions(cfg, "kraken")...)}
		if cfg.Exchanges.Kraken.BaseURL != "" {
			opts = append(opts, kraken.WithBaseURL(cfg.Exchanges.Kraken.BaseURL))
		}
		adapters["kraken"] = kraken.New(loadCredentials("KRAKEN"), opts...)
	}
	return adapters
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Tradecore.Name,
		"version":     cfg.Tradecore.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting tradecore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Logging.DashboardName)
		go logger.CreateDefaultDashboard(ctx)
	}

	adapters := buildAdapters(cfg)
	if len(adapters) == 0 {
		log.Error("no exchanges enabled in configuration")
		os.Exit(1)
	}

	for name, adapter := range adapters {
		initCtx, initCancel := context.WithTimeout(ctx, cfg.HTTP.Timeout)
		err := adapter.Initialize(initCtx)
		initCancel()
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"exchange": name}).Warn("exchange unavailable, dropping from aggregation")
			adapter.Close()
			delete(adapters, name)
		}
	}
	if len(adapters) == 0 {
		log.Error("no exchanges reachable")
		os.Exit(1)
	}

	svc := level2.NewService(adapters, level2.Config{
		Depth:    cfg.Level2.Depth,
		Interval: time.Duration(cfg.Level2.IntervalMs) * time.Millisecond,
		CacheTTL: cfg.Level2.CacheTTL,
	})

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewArchiver(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			os.Exit(1)
		}
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archiving disabled; snapshots stay in memory only")
	}

	for _, symbol := range cfg.Level2.Symbols {
		callback := func(data *models.Level2Data) {
			logger.IncrementBookFetch(len(data.Bids) + len(data.Asks))
			if archiver != nil {
				archiver.Record(data)
			}
		}
		if _, err := svc.Subscribe(ctx, symbol, callback, nil); err != nil {
			log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("level2 subscription failed")
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping level2 service")
	svc.Close()

	if archiver != nil {
		log.Info("stopping archiver")
		archiver.Stop()
	}

	for name, adapter := range adapters {
		if err := adapter.Close(); err != nil {
			log.WithError(err).WithFields(logger.Fields{"exchange": name}).Warn("adapter close failed")
		}
	}

	log.Info("tradecore stopped")
}
