package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	fixgateway "github.com/joripage/order-relay/pkg/gateway/fix"
	"github.com/joripage/order-relay/pkg/gateway/paper"
	kafka_wrapper "github.com/joripage/order-relay/pkg/infra/kafka"
	postgres_wrapper "github.com/joripage/order-relay/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/order-relay/pkg/infra/redis"
	"github.com/joripage/order-relay/pkg/logging"
	"github.com/joripage/order-relay/pkg/webhook"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DriverFix   = "fix"
	DriverPaper = "paper"

	defaultServiceName = "order-relay"
	defaultPortPaper   = 7497
	defaultPortLive    = 7496
	defaultLogFile     = "trading_bot.log"
	defaultJournalFile = "trades.json"
	minClientID        = 1000
	maxClientID        = 9999
	defaultSLPercent   = 0.02
	defaultTPPercent   = 0.04
)

type AppConfig struct {
	ServiceName  string         `yaml:"service_name"`
	PaperTrading bool           `yaml:"paper_trading"`
	Webhook      webhook.Config `yaml:"webhook"`
	Gateway      GatewayConfig  `yaml:"gateway"`
	Bracket      BracketConfig  `yaml:"bracket"`
	Risk         RiskConfig     `yaml:"risk"`
	Journal      JournalConfig  `yaml:"journal"`
	Logging      logging.Config `yaml:"logging"`
}

type GatewayConfig struct {
	Driver        string            `yaml:"driver"`
	Host          string            `yaml:"host"`
	PortPaper     int               `yaml:"port_paper"`
	PortLive      int               `yaml:"port_live"`
	ClientID      int               `yaml:"client_id"`
	MaxAttempts   int               `yaml:"max_attempts"`
	BaseDelayMs   int               `yaml:"base_delay_ms"`
	DialTimeoutMs int               `yaml:"dial_timeout_ms"`
	CallTimeoutMs int               `yaml:"call_timeout_ms"`
	FillWaitMs    int               `yaml:"fill_wait_ms"`
	Fix           fixgateway.Config `yaml:"fix"`
	Paper         paper.Config      `yaml:"paper"`
}

func (g GatewayConfig) BaseDelay() time.Duration {
	return time.Duration(g.BaseDelayMs) * time.Millisecond
}

func (g GatewayConfig) DialTimeout() time.Duration {
	return time.Duration(g.DialTimeoutMs) * time.Millisecond
}

func (g GatewayConfig) CallTimeout() time.Duration {
	return time.Duration(g.CallTimeoutMs) * time.Millisecond
}

func (g GatewayConfig) FillWait() time.Duration {
	return time.Duration(g.FillWaitMs) * time.Millisecond
}

type BracketConfig struct {
	SLPercent   float64 `yaml:"sl_percent"`
	TPPercent   float64 `yaml:"tp_percent"`
	PricePlaces int32   `yaml:"price_places"`
}

type TickTier struct {
	MaxPrice float64 `yaml:"max_price"`
	Step     float64 `yaml:"step"`
}

type RiskConfig struct {
	MaxQuantity int64                 `yaml:"max_quantity"`
	TickSizes   map[string][]TickTier `yaml:"tick_sizes"`
}

type RedisJournalConfig struct {
	redis_wrapper.RedisConfig `yaml:",inline"`
	Stream                    string `yaml:"stream"`
	MaxLen                    int64  `yaml:"max_len"`
}

type KafkaJournalConfig struct {
	kafka_wrapper.ProducerConfig `yaml:",inline"`
	Topic                        string `yaml:"topic"`
}

// JournalConfig names the primary journal file and the optional mirrors.
type JournalConfig struct {
	File     string                           `yaml:"file"`
	Postgres *postgres_wrapper.PostgresConfig `yaml:"postgres"`
	Redis    *RedisJournalConfig              `yaml:"redis"`
	Kafka    *KafkaJournalConfig              `yaml:"kafka"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	// zero is a valid bracket fraction, so its defaults are set before decoding
	cfg := &AppConfig{
		Bracket: BracketConfig{
			SLPercent: defaultSLPercent,
			TPPercent: defaultTPPercent,
		},
	}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		sugar.Errorf("Invalid config: %v", err)
		return nil, err
	}

	zap.S().Debugf("config: service=%s driver=%s paper=%v", cfg.ServiceName, cfg.Gateway.Driver, cfg.PaperTrading)

	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.Webhook.ListenAddr == "" {
		c.Webhook.ListenAddr = webhook.DefaultListenAddr
	}

	g := &c.Gateway
	g.Driver = strings.ToLower(strings.TrimSpace(g.Driver))
	if g.Driver == "" {
		g.Driver = DriverFix
	}
	if g.Host == "" {
		g.Host = "127.0.0.1"
	}
	if g.PortPaper == 0 {
		g.PortPaper = defaultPortPaper
	}
	if g.PortLive == 0 {
		g.PortLive = defaultPortLive
	}
	if g.ClientID == 0 {
		g.ClientID = minClientID + rand.IntN(maxClientID-minClientID+1)
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 3
	}
	if g.BaseDelayMs == 0 {
		g.BaseDelayMs = 2000
	}
	if g.CallTimeoutMs == 0 {
		g.CallTimeoutMs = 10000
	}
	if g.DialTimeoutMs == 0 {
		g.DialTimeoutMs = g.CallTimeoutMs
	}
	if g.FillWaitMs == 0 {
		g.FillWaitMs = 1000
	}
	if g.Fix.Host == "" {
		g.Fix.Host = g.Host
	}
	if g.Fix.Port == 0 {
		g.Fix.Port = g.PortLive
		if c.PaperTrading {
			g.Fix.Port = g.PortPaper
		}
	}

	if c.Bracket.PricePlaces == 0 {
		c.Bracket.PricePlaces = 2
	}

	if c.Journal.File == "" {
		c.Journal.File = defaultJournalFile
	}
	if c.Logging.File == "" {
		c.Logging.File = defaultLogFile
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.Webhook.Token == "" {
		errs = append(errs, errors.New("webhook.token is required"))
	}
	switch c.Gateway.Driver {
	case DriverFix:
		if c.Gateway.Fix.SenderCompID == "" || c.Gateway.Fix.TargetCompID == "" {
			errs = append(errs, errors.New("gateway.fix.sender_comp_id and target_comp_id are required"))
		}
	case DriverPaper:
	default:
		errs = append(errs, fmt.Errorf("gateway.driver %q is not one of fix, paper", c.Gateway.Driver))
	}
	if c.Gateway.MaxAttempts < 1 {
		errs = append(errs, errors.New("gateway.max_attempts must be at least 1"))
	}
	if c.Gateway.ClientID < 0 {
		errs = append(errs, errors.New("gateway.client_id must not be negative"))
	}
	if c.Bracket.SLPercent < 0 || c.Bracket.SLPercent >= 1 {
		errs = append(errs, fmt.Errorf("bracket.sl_percent %v must be in [0,1)", c.Bracket.SLPercent))
	}
	if c.Bracket.TPPercent < 0 || c.Bracket.TPPercent >= 1 {
		errs = append(errs, fmt.Errorf("bracket.tp_percent %v must be in [0,1)", c.Bracket.TPPercent))
	}
	if c.Risk.MaxQuantity < 0 {
		errs = append(errs, errors.New("risk.max_quantity must not be negative"))
	}
	if p := c.Journal.Postgres; p != nil && p.DataSource == "" {
		errs = append(errs, errors.New("journal.postgres.data_source is required"))
	}
	if r := c.Journal.Redis; r != nil && r.ConnectionURL == "" {
		errs = append(errs, errors.New("journal.redis.connection_url is required"))
	}
	if k := c.Journal.Kafka; k != nil && len(k.Brokers) == 0 {
		errs = append(errs, errors.New("journal.kafka.brokers is required"))
	}
	return errors.Join(errs...)
}
