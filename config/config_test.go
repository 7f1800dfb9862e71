package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botmarket/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.DefaultHost, cfg.Host)
	require.Equal(t, config.DefaultPort, cfg.Port)
	require.Equal(t, config.DefaultSolanaNetwork, cfg.SolanaNetwork)
	require.Equal(t, config.DefaultJobTTL, cfg.JobTTL)
	require.False(t, cfg.DemoMode)
	require.False(t, cfg.EscrowEnabled())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
Port = 9090
SolanaNetwork = "mainnet-beta"
PlatformFeePercent = 2.5
PlatformWallet = "Stake11111111111111111111111111111111111111"
JobTTL = "24h"
AdminAllowedIPs = "10.0.0.1, 10.0.0.2"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "mainnet-beta", cfg.SolanaNetwork)
	require.Equal(t, 2.5, cfg.PlatformFeePercent)
	require.Equal(t, 24*time.Hour, cfg.JobTTL)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.AdminAllowedIPs)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Port = 9090\n"), 0o600))
	t.Setenv("PORT", "7070")
	t.Setenv("DEMO_MODE", "true")
	t.Setenv("JOB_TTL", "1h")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
	require.True(t, cfg.DemoMode)
	require.Equal(t, time.Hour, cfg.JobTTL)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("PORT", "-1")
	_, err := config.Load("")
	require.Error(t, err)

	t.Setenv("PORT", "8080")
	t.Setenv("PLATFORM_FEE_PERCENT", "101")
	_, err = config.Load("")
	require.Error(t, err)

	// A fee without a wallet to receive it is a misconfiguration.
	t.Setenv("PLATFORM_FEE_PERCENT", "5")
	t.Setenv("PLATFORM_WALLET", "")
	_, err = config.Load("")
	require.Error(t, err)
}

func TestEscrowEnabled(t *testing.T) {
	t.Setenv("ESCROW_WALLET", "Vote111111111111111111111111111111111111111")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.False(t, cfg.EscrowEnabled(), "wallet without key is not enough")

	t.Setenv("ESCROW_PRIVATE_KEY", "secret")
	cfg, err = config.Load("")
	require.NoError(t, err)
	require.True(t, cfg.EscrowEnabled())
}
