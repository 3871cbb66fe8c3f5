package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "https://api.etherscan.io/api", cfg.EtherscanBaseURL)
	assert.Equal(t, 3*time.Minute, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.HourlyInterval)
	assert.Equal(t, 30*time.Minute, cfg.DailyCheckInterval)
	assert.Equal(t, "Asia/Taipei", cfg.ReportTimezone)
	assert.Equal(t, 8, cfg.MaxConcurrentSends)
	assert.Zero(t, cfg.HistoryRetentionDays)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TARGET_ADDRESS", "0xABCDEF")
	t.Setenv("START_BLOCK", "21526488")
	t.Setenv("ADMIN_IDS", "100, 200,junk,300")
	t.Setenv("POLL_INTERVAL", "45s")
	t.Setenv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/api/")

	cfg := Load()

	// Addresses are compared lowercase everywhere.
	assert.Equal(t, "0xabcdef", cfg.TargetAddress)
	assert.Equal(t, uint64(21526488), cfg.StartBlock)
	assert.Equal(t, []int64{100, 200, 300}, cfg.AdminIDs)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.Equal(t, "https://api.etherscan.io/api", cfg.EtherscanBaseURL)
}
