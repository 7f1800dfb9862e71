package jobs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"botmarket/core/jobs"
)

func TestValidWallet(t *testing.T) {
	cases := []struct {
		name   string
		wallet string
		want   bool
	}{
		{"system program", "11111111111111111111111111111111", true},
		{"token program", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", true},
		{"wrapped sol mint", "So11111111111111111111111111111111111111112", true},
		{"surrounding whitespace", " So11111111111111111111111111111111111111112 ", true},
		{"empty", "", false},
		{"too short", "abc", false},
		{"invalid alphabet", "0OIl111111111111111111111111111111111111111", false},
		{"not 32 bytes", "z1111111111111111111111111111111", false},
		{"too long", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA11", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, jobs.ValidWallet(tc.wallet))
		})
	}
}

func TestAtomicFromUSDC(t *testing.T) {
	require.Equal(t, uint64(100_000), jobs.AtomicFromUSDC(0.1))
	require.Equal(t, uint64(1), jobs.AtomicFromUSDC(0.000001))
	require.Equal(t, uint64(1_000_000_000), jobs.AtomicFromUSDC(1000))
	// Float noise rounds to the nearest atom instead of truncating.
	require.Equal(t, uint64(290_000), jobs.AtomicFromUSDC(0.29))
}
