// Package config loads service configuration from the environment and
// from the optional alert-rules file. Missing required variables fail
// the process at startup rather than surfacing later as store errors.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP
	Addr          string
	WebhookSecret string
	MaxBodyBytes  int64

	// Tabular store
	StoreDSN      string
	SpreadsheetID string
	SheetsToken   string

	// Upstream CMS
	CMSBaseURL string
	CMSToken   string

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string

	// Sync scheduler
	SyncInterval  time.Duration
	SyncBatchSize int

	// Alert rules file, watched for changes when set.
	AlertRulesFile string
}

// Load reads .env (if present) and the process environment. Every
// missing required variable is reported in one error so operators fix
// the whole set at once.
func Load() (Config, error) {
	// A missing .env file is fine; explicit env always wins.
	_ = godotenv.Load()

	cfg := Config{
		Addr:           envOr("OPSTRACK_ADDR", ":8080"),
		WebhookSecret:  os.Getenv("OPSTRACK_WEBHOOK_SECRET"),
		MaxBodyBytes:   int64EnvOr("OPSTRACK_MAX_BODY_BYTES", 1<<20),
		StoreDSN:       os.Getenv("OPSTRACK_STORE_DSN"),
		SpreadsheetID:  os.Getenv("OPSTRACK_SPREADSHEET_ID"),
		SheetsToken:    os.Getenv("OPSTRACK_SHEETS_TOKEN"),
		CMSBaseURL:     os.Getenv("OPSTRACK_CMS_URL"),
		CMSToken:       os.Getenv("OPSTRACK_CMS_TOKEN"),
		SMTPHost:       os.Getenv("OPSTRACK_SMTP_HOST"),
		SMTPPort:       intEnvOr("OPSTRACK_SMTP_PORT", 587),
		SMTPUsername:   os.Getenv("OPSTRACK_SMTP_USERNAME"),
		SMTPPassword:   os.Getenv("OPSTRACK_SMTP_PASSWORD"),
		SMTPFrom:       os.Getenv("OPSTRACK_SMTP_FROM"),
		SMTPTo:         splitList(os.Getenv("OPSTRACK_SMTP_TO")),
		SyncInterval:   durationEnvOr("OPSTRACK_SYNC_INTERVAL", 15*time.Minute),
		SyncBatchSize:  intEnvOr("OPSTRACK_SYNC_BATCH_SIZE", 100),
		AlertRulesFile: os.Getenv("OPSTRACK_ALERT_RULES_FILE"),
	}

	missing := map[string]bool{}
	requireString(missing, "OPSTRACK_STORE_DSN", cfg.StoreDSN)
	requireString(missing, "OPSTRACK_WEBHOOK_SECRET", cfg.WebhookSecret)
	requireString(missing, "OPSTRACK_CMS_URL", cfg.CMSBaseURL)
	requireString(missing, "OPSTRACK_CMS_TOKEN", cfg.CMSToken)
	requireString(missing, "OPSTRACK_SMTP_HOST", cfg.SMTPHost)
	requireString(missing, "OPSTRACK_SMTP_FROM", cfg.SMTPFrom)
	if len(cfg.SMTPTo) == 0 {
		missing["OPSTRACK_SMTP_TO"] = true
	}
	dsn := strings.ToLower(cfg.StoreDSN)
	if strings.HasPrefix(dsn, "sheets://") || strings.HasPrefix(dsn, "https://") || strings.HasPrefix(dsn, "http://") {
		requireString(missing, "OPSTRACK_SPREADSHEET_ID", cfg.SpreadsheetID)
		requireString(missing, "OPSTRACK_SHEETS_TOKEN", cfg.SheetsToken)
	}
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return Config{}, fmt.Errorf("missing required configuration: %s", strings.Join(names, ", "))
	}
	if cfg.SyncInterval <= 0 {
		return Config{}, fmt.Errorf("OPSTRACK_SYNC_INTERVAL must be positive")
	}
	if cfg.SyncBatchSize <= 0 {
		return Config{}, fmt.Errorf("OPSTRACK_SYNC_BATCH_SIZE must be positive")
	}
	return cfg, nil
}

func requireString(missing map[string]bool, name, value string) {
	if strings.TrimSpace(value) == "" {
		missing[name] = true
	}
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

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func intEnvOr(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func int64EnvOr(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnvOr(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
