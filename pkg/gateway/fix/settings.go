package fixgateway

import (
	"fmt"
	"strings"

	"github.com/quickfixgo/quickfix"
)

type Config struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	BeginString  string `yaml:"begin_string"`
	SenderCompID string `yaml:"sender_comp_id"`
	TargetCompID string `yaml:"target_comp_id"`
	HeartBtInt   int    `yaml:"heartbeat_interval"`
	LogPath      string `yaml:"log_path"`
	Account      string `yaml:"account"`
}

func (c Config) withDefaults() Config {
	if c.BeginString == "" {
		c.BeginString = quickfix.BeginStringFIX44
	}
	if c.HeartBtInt <= 0 {
		c.HeartBtInt = 30
	}
	if c.LogPath == "" {
		c.LogPath = "fixlog"
	}
	return c
}

// buildSettings renders the initiator settings for one connection attempt.
// The client id travels as SenderSubID so each attempt is a distinct session.
func buildSettings(cfg Config, clientID int) (*quickfix.Settings, error) {
	cfg = cfg.withDefaults()
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("fix gateway address is not configured")
	}
	if cfg.SenderCompID == "" || cfg.TargetCompID == "" {
		return nil, fmt.Errorf("fix sender and target comp ids are required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[DEFAULT]\n")
	fmt.Fprintf(&b, "ConnectionType=initiator\n")
	fmt.Fprintf(&b, "HeartBtInt=%d\n", cfg.HeartBtInt)
	fmt.Fprintf(&b, "ReconnectInterval=%d\n", cfg.HeartBtInt)
	fmt.Fprintf(&b, "ResetOnLogon=Y\n")
	fmt.Fprintf(&b, "FileLogPath=%s\n", cfg.LogPath)
	fmt.Fprintf(&b, "\n[SESSION]\n")
	fmt.Fprintf(&b, "BeginString=%s\n", cfg.BeginString)
	fmt.Fprintf(&b, "SenderCompID=%s\n", cfg.SenderCompID)
	fmt.Fprintf(&b, "SenderSubID=%d\n", clientID)
	fmt.Fprintf(&b, "TargetCompID=%s\n", cfg.TargetCompID)
	fmt.Fprintf(&b, "SocketConnectHost=%s\n", cfg.Host)
	fmt.Fprintf(&b, "SocketConnectPort=%d\n", cfg.Port)

	settings, err := quickfix.ParseSettings(strings.NewReader(b.String()))
	if err != nil {
		return nil, fmt.Errorf("error reading fix settings: %w", err)
	}
	return settings, nil
}
