package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	BotToken   string
	AdminIDs   []int64
	InviteCode string

	// Etherscan
	EtherscanAPIKey  string
	EtherscanBaseURL string
	TargetAddress    string
	StartBlock       uint64

	// Database
	DBPath string

	// Scheduling
	PollInterval       time.Duration
	HourlyInterval     time.Duration
	DailyCheckInterval time.Duration

	// Reporting
	ReportTimezone string

	// Delivery
	MaxConcurrentSends int

	// Retention (0 = keep full history)
	HistoryRetentionDays int

	// Health server
	HealthPort int
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken:   getEnv("BOT_TOKEN", ""),
		AdminIDs:   getEnvInt64List("ADMIN_IDS", nil),
		InviteCode: getEnv("INVITE_CODE", ""),

		// Etherscan
		EtherscanAPIKey:  getEnv("ETHERSCAN_API_KEY", ""),
		EtherscanBaseURL: strings.TrimSuffix(getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/api"), "/"),
		TargetAddress:    strings.ToLower(getEnv("TARGET_ADDRESS", "")),
		StartBlock:       getEnvUint64("START_BLOCK", 0),

		// Database
		DBPath: getEnv("DB_PATH", "./ethwatch.db"),

		// Scheduling
		PollInterval:       getEnvDuration("POLL_INTERVAL", 3*time.Minute),
		HourlyInterval:     getEnvDuration("HOURLY_REPORT_INTERVAL", time.Hour),
		DailyCheckInterval: getEnvDuration("DAILY_CHECK_INTERVAL", 30*time.Minute),

		// Reporting
		ReportTimezone: getEnv("REPORT_TIMEZONE", "Asia/Taipei"),

		// Delivery
		MaxConcurrentSends: getEnvInt("MAX_CONCURRENT_SENDS", 8),

		// Retention
		HistoryRetentionDays: getEnvInt("HISTORY_RETENTION_DAYS", 0),

		// Health server
		HealthPort: getEnvInt("HEALTH_PORT", 8080),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvInt64List(key string, defaultVal []int64) []int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []int64
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
