// Package config loads loand's TOML configuration, the same
// BurntSushi/toml-backed shape loanforge/config uses for the base chain
// node's config.toml.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures everything a loand process needs to serve requests.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`

	DatabaseDriver string `toml:"DatabaseDriver"` // "postgres" or "sqlite"
	DatabaseDSN    string `toml:"DatabaseDSN"`

	JWTSecret        string `toml:"JWTSecret"`
	JWTClockSkewSecs int64  `toml:"JWTClockSkewSecs"`

	TreasuryFeeBps  uint64 `toml:"TreasuryFeeBps"`
	InvestorFeeBps  uint64 `toml:"InvestorFeeBps"`
	TreasuryAddress string `toml:"TreasuryAddress"`
	PoolDelegate    string `toml:"PoolDelegate"`

	AuditLogPath    string `toml:"AuditLogPath"`
	AuditMaxSizeMB  int    `toml:"AuditMaxSizeMB"`
	AuditMaxAgeDays int    `toml:"AuditMaxAgeDays"`
	AuditMaxBackups int    `toml:"AuditMaxBackups"`
}

// EnsureDefaults fills in the listen address, database, JWT clock-skew and
// audit-log fields left unset with a local-development default, the same
// role loanforge/config.createDefault plays for the base node's config file.
// JWTSecret, the fee bps and the treasury/pool-delegate addresses have no
// default and keep their zero values.
func (cfg *Config) EnsureDefaults() {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "sqlite"
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = "file:loand.db?cache=shared"
	}
	if cfg.JWTClockSkewSecs == 0 {
		cfg.JWTClockSkewSecs = 120
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = "./loand-audit.log"
	}
	if cfg.AuditMaxSizeMB == 0 {
		cfg.AuditMaxSizeMB = 100
	}
	if cfg.AuditMaxAgeDays == 0 {
		cfg.AuditMaxAgeDays = 28
	}
	if cfg.AuditMaxBackups == 0 {
		cfg.AuditMaxBackups = 7
	}
}

// Load reads path as TOML and applies defaults for unset fields. A missing
// file is not an error: Load returns the all-defaults Config, matching
// loanforge/config.Load's self-provisioning behavior for local runs.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	cfg.EnsureDefaults()
	return cfg, nil
}
