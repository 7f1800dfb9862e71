// Package config loads marketplace runtime configuration from an optional
// TOML file with environment variable overrides. Environment always wins so
// containerised deployments can run without a file at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default values applied when neither file nor environment provides one.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8080
	DefaultSolanaRPCURL       = "https://api.devnet.solana.com"
	DefaultSolanaNetwork      = "devnet"
	DefaultUSDCMint           = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	DefaultPlatformFeePercent = 0.0
	DefaultJobTTL             = 72 * time.Hour
)

// Config captures runtime configuration for the marketplace daemon.
type Config struct {
	Host               string  `toml:"Host"`
	Port               int     `toml:"Port"`
	SolanaRPCURL       string  `toml:"SolanaRPCURL"`
	SolanaNetwork      string  `toml:"SolanaNetwork"`
	USDCMint           string  `toml:"USDCMint"`
	PlatformFeePercent float64 `toml:"PlatformFeePercent"`
	PlatformWallet     string  `toml:"PlatformWallet"`
	EscrowWallet       string  `toml:"EscrowWallet"`
	// EscrowPrivateKey is only ever read from the environment; a key in the
	// TOML file is rejected so secrets stay out of checked-in config.
	EscrowPrivateKey string `toml:"-"`
	AdminAPIKey      string `toml:"-"`
	AdminAllowedIPs  []string
	DatabasePath     string        `toml:"DatabasePath"`
	JobTTL           time.Duration `toml:"-"`
	DemoMode         bool          `toml:"DemoMode"`
	LogEnv           string        `toml:"LogEnv"`
}

// fileConfig mirrors Config for TOML decoding of fields that need string
// forms (durations, comma lists).
type fileConfig struct {
	Config
	JobTTL          string `toml:"JobTTL"`
	AdminAllowedIPs string `toml:"AdminAllowedIPs"`
}

// Load reads the TOML file at path when it exists, then applies environment
// overrides and validates the result. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Host:               DefaultHost,
		Port:               DefaultPort,
		SolanaRPCURL:       DefaultSolanaRPCURL,
		SolanaNetwork:      DefaultSolanaNetwork,
		USDCMint:           DefaultUSDCMint,
		PlatformFeePercent: DefaultPlatformFeePercent,
		JobTTL:             DefaultJobTTL,
		LogEnv:             "development",
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var file fileConfig
			file.Config = *cfg
			if _, err := toml.DecodeFile(path, &file); err != nil {
				return nil, fmt.Errorf("decode config file %s: %w", path, err)
			}
			*cfg = file.Config
			if raw := strings.TrimSpace(file.JobTTL); raw != "" {
				ttl, err := time.ParseDuration(raw)
				if err != nil {
					return nil, fmt.Errorf("parse JobTTL in %s: %w", path, err)
				}
				cfg.JobTTL = ttl
			}
			if raw := strings.TrimSpace(file.AdminAllowedIPs); raw != "" {
				cfg.AdminAllowedIPs = splitList(raw)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("SOLANA_RPC_URL")); v != "" {
		cfg.SolanaRPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SOLANA_NETWORK")); v != "" {
		cfg.SolanaNetwork = v
	}
	if v := strings.TrimSpace(os.Getenv("USDC_MINT")); v != "" {
		cfg.USDCMint = v
	}
	if v := strings.TrimSpace(os.Getenv("PLATFORM_FEE_PERCENT")); v != "" {
		percent, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse PLATFORM_FEE_PERCENT: %w", err)
		}
		cfg.PlatformFeePercent = percent
	}
	if v := strings.TrimSpace(os.Getenv("PLATFORM_WALLET")); v != "" {
		cfg.PlatformWallet = v
	}
	if v := strings.TrimSpace(os.Getenv("ESCROW_WALLET")); v != "" {
		cfg.EscrowWallet = v
	}
	if v := strings.TrimSpace(os.Getenv("ESCROW_PRIVATE_KEY")); v != "" {
		cfg.EscrowPrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_API_KEY")); v != "" {
		cfg.AdminAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_ALLOWED_IPS")); v != "" {
		cfg.AdminAllowedIPs = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_PATH")); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.TrimSpace(os.Getenv("JOB_TTL")); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse JOB_TTL: %w", err)
		}
		cfg.JobTTL = ttl
	}
	if v := strings.TrimSpace(os.Getenv("DEMO_MODE")); v != "" {
		demo, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse DEMO_MODE: %w", err)
		}
		cfg.DemoMode = demo
	}
	if v := strings.TrimSpace(os.Getenv("APP_ENV")); v != "" {
		cfg.LogEnv = v
	}
	return nil
}

// Validate checks the invariants a running daemon depends on.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.SolanaRPCURL) == "" {
		return errors.New("SOLANA_RPC_URL is required")
	}
	if strings.TrimSpace(c.USDCMint) == "" {
		return errors.New("USDC_MINT is required")
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("platform fee percent %v out of range 0-100", c.PlatformFeePercent)
	}
	if c.PlatformFeePercent > 0 && strings.TrimSpace(c.PlatformWallet) == "" {
		return errors.New("PLATFORM_WALLET is required when PLATFORM_FEE_PERCENT is set")
	}
	if c.JobTTL <= 0 {
		return errors.New("job TTL must be positive")
	}
	return nil
}

// ListenAddress joins host and port for the HTTP server.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EscrowEnabled reports whether the daemon holds a funded escrow identity and
// can run the pre-funded settlement path.
func (c *Config) EscrowEnabled() bool {
	return strings.TrimSpace(c.EscrowWallet) != "" && strings.TrimSpace(c.EscrowPrivateKey) != ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
