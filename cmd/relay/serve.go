package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joripage/order-relay/config"
	"github.com/joripage/order-relay/pkg/gateway"
	fixgateway "github.com/joripage/order-relay/pkg/gateway/fix"
	"github.com/joripage/order-relay/pkg/gateway/paper"
	kafka_wrapper "github.com/joripage/order-relay/pkg/infra/kafka"
	postgres_wrapper "github.com/joripage/order-relay/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/order-relay/pkg/infra/redis"
	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/relay"
	"github.com/joripage/order-relay/pkg/relay/journal"
	riskrule "github.com/joripage/order-relay/pkg/relay/riskrule"
	"github.com/joripage/order-relay/pkg/webhook"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	logger := logging.NewLogger(cfg.Logging)
	defer logger.Sync() // nolint
	zap.ReplaceGlobals(logger.Zap())
	logging.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	log := logger.With(zap.String("service", cfg.ServiceName))

	session := gateway.NewSession(newDriver(cfg, log), gateway.Config{
		BaseClientID: cfg.Gateway.ClientID,
		MaxAttempts:  cfg.Gateway.MaxAttempts,
		BaseDelay:    cfg.Gateway.BaseDelay(),
		DialTimeout:  cfg.Gateway.DialTimeout(),
		CallTimeout:  cfg.Gateway.CallTimeout(),
	}, log)
	defer session.Close()

	sink, err := openJournal(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error(context.Background(), "journal close failed", zap.Error(err))
		}
	}()

	orchestrator, err := relay.New(session, sink, relay.Config{
		StopLoss:     cfg.Bracket.SLPercent,
		TakeProfit:   cfg.Bracket.TPPercent,
		PricePlaces:  cfg.Bracket.PricePlaces,
		FillWait:     cfg.Gateway.FillWait(),
		PaperTrading: cfg.PaperTrading,
	}, log, riskRules(cfg.Risk)...)
	if err != nil {
		return err
	}
	session.OnConnect(orchestrator.LogReconnect)

	if !session.EnsureConnected(ctx) {
		log.Warn(ctx, "gateway not reachable at startup, will retry on first request",
			zap.String("driver", cfg.Gateway.Driver))
	}

	srv := webhook.NewServer(cfg.Webhook, orchestrator, log).HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "webhook server listening",
			zap.String("addr", srv.Addr),
			zap.Bool("paper_trading", cfg.PaperTrading))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("webhook server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "webhook server shutdown", zap.Error(err))
	}
	return nil
}

func newDriver(cfg *config.AppConfig, log *logging.Logger) gateway.Driver {
	if cfg.Gateway.Driver == config.DriverPaper {
		return paper.New(cfg.Gateway.Paper, log)
	}
	return fixgateway.NewFixGateway(cfg.Gateway.Fix, log)
}

// openJournal opens the file journal and whichever mirrors are configured.
func openJournal(ctx context.Context, cfg *config.AppConfig, log *logging.Logger) (*journal.Multi, error) {
	primary, err := journal.OpenFile(cfg.Journal.File)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	var mirrors []journal.Sink
	fail := func(err error) (*journal.Multi, error) {
		_ = journal.NewMulti(primary, log, mirrors...).Close()
		return nil, err
	}

	if pgCfg := cfg.Journal.Postgres; pgCfg != nil {
		db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, pgCfg)
		if err != nil {
			return fail(fmt.Errorf("journal postgres: %w", err))
		}
		mirrors = append(mirrors, journal.NewSQLJournal(db))
	}
	if rCfg := cfg.Journal.Redis; rCfg != nil {
		client, err := redis_wrapper.InitRedis(ctx, &rCfg.RedisConfig)
		if err != nil {
			return fail(fmt.Errorf("journal redis: %w", err))
		}
		mirrors = append(mirrors, journal.NewRedisJournal(client, rCfg.Stream, rCfg.MaxLen))
	}
	if kCfg := cfg.Journal.Kafka; kCfg != nil {
		producer := kafka_wrapper.NewProducer(kCfg.ProducerConfig)
		mirrors = append(mirrors, journal.NewKafkaJournal(producer, kCfg.Topic))
	}

	names := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		names = append(names, m.Name())
	}
	log.Info(ctx, "journal opened", zap.String("file", cfg.Journal.File), zap.Strings("mirrors", names))
	return journal.NewMulti(primary, log, mirrors...), nil
}

func riskRules(cfg config.RiskConfig) []riskrule.RiskRule {
	var rules []riskrule.RiskRule
	if cfg.MaxQuantity > 0 {
		rules = append(rules, &riskrule.MaxQuantityRule{Max: cfg.MaxQuantity})
	}
	if len(cfg.TickSizes) > 0 {
		tiers := make(map[string][]riskrule.TickTier, len(cfg.TickSizes))
		for symbol, ts := range cfg.TickSizes {
			for _, t := range ts {
				tiers[symbol] = append(tiers[symbol], riskrule.TickTier{
					MaxPrice: decimal.NewFromFloat(t.MaxPrice),
					Step:     decimal.NewFromFloat(t.Step),
				})
			}
		}
		rules = append(rules, &riskrule.TickSizeRule{Tiers: tiers})
	}
	return rules
}
