package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"importflow/internal/customs"
)

type Config struct {
	DBPath        string
	ScreenshotDir string
	RawMailDir    string
	OutputDir     string
	LogLevel      string
	MetricsAddr   string

	CustomsThreshold     decimal.Decimal
	CustomsSafeSplitUnit decimal.Decimal
	SurnamePool          []string
	MaxOrderAmount       decimal.Decimal

	VisionAPIBaseURL   string
	VisionAPIKey       string
	VisionModel        string
	VisionTimeoutMs    int
	VisionRateLimitRPS int
	ExtractConcurrency int

	PackagePrefix string
	PackageWidth  int
	PackageStart  int

	RecentCustomersMax      int
	RecentCustomersTTLHours int
	CustomerMatchThreshold  float64

	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURI   string
	GoogleRefreshToken  string
	GoogleDriveFolderID string

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider     string
	MailListenerLabel        string
	MailListenerDoc          string
	MailListenerIntervalSec  int
	MailListenerFetchMax     int
	MailListenerProcessBatch int
	MailListenerAutoExport   bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	defaults := customs.DefaultConfig()
	cfg := Config{
		DBPath:        getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		ScreenshotDir: getEnv("SCREENSHOT_DIR", filepath.Join(cwd, "data", "screenshots")),
		RawMailDir:    getEnv("MAIL_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:     getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),

		CustomsThreshold:     getEnvDecimal("CUSTOMS_THRESHOLD", defaults.Threshold),
		CustomsSafeSplitUnit: getEnvDecimal("CUSTOMS_SAFE_SPLIT_UNIT", defaults.SafeSplitUnit),
		SurnamePool:          getEnvList("SURNAME_POOL", defaults.SurnamePool),
		MaxOrderAmount:       getEnvDecimal("MAX_ORDER_AMOUNT", decimal.NewFromInt(100000)),

		VisionAPIBaseURL:   getEnv("VISION_API_BASE_URL", "https://api.openai.com/v1"),
		VisionAPIKey:       getEnv("VISION_API_KEY", ""),
		VisionModel:        getEnv("VISION_MODEL", "gpt-4o-mini"),
		VisionTimeoutMs:    getEnvInt("VISION_TIMEOUT_MS", 60000),
		VisionRateLimitRPS: getEnvInt("VISION_RATE_LIMIT_RPS", 2),
		ExtractConcurrency: getEnvInt("EXTRACT_CONCURRENCY", 4),

		PackagePrefix: getEnv("PACKAGE_PREFIX", "IF-"),
		PackageWidth:  getEnvInt("PACKAGE_WIDTH", 5),
		PackageStart:  getEnvInt("PACKAGE_START", 1),

		RecentCustomersMax:      getEnvInt("RECENT_CUSTOMERS_MAX", 50),
		RecentCustomersTTLHours: getEnvInt("RECENT_CUSTOMERS_TTL_HOURS", 24*30),
		CustomerMatchThreshold:  getEnvFloat("CUSTOMER_MATCH_THRESHOLD", 0.85),

		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:   getEnv("GOOGLE_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GoogleRefreshToken:  getEnv("GOOGLE_REFRESH_TOKEN", ""),
		GoogleDriveFolderID: getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:     getEnv("MAIL_LISTENER_PROVIDER", "gmail"),
		MailListenerLabel:        getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerDoc:          getEnv("MAIL_LISTENER_DOC", "Inbox"),
		MailListenerIntervalSec:  getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 30),
		MailListenerFetchMax:     getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
		MailListenerProcessBatch: getEnvInt("MAIL_LISTENER_PROCESS_BATCH", 20),
		MailListenerAutoExport:   getEnvBool("MAIL_LISTENER_AUTO_EXPORT", true),
	}

	// Gmail reuses the Google Workspace OAuth client unless configured apart.
	cfg.GmailClientID = getEnv("GMAIL_CLIENT_ID", cfg.GoogleClientID)
	cfg.GmailClientSecret = getEnv("GMAIL_CLIENT_SECRET", cfg.GoogleClientSecret)
	cfg.GmailRedirectURI = getEnv("GMAIL_REDIRECT_URI", cfg.GoogleRedirectURI)
	cfg.GmailRefreshToken = getEnv("GMAIL_REFRESH_TOKEN", cfg.GoogleRefreshToken)

	return cfg, nil
}

func (c Config) CustomsConfig() customs.Config {
	pool := make([]string, len(c.SurnamePool))
	copy(pool, c.SurnamePool)
	return customs.Config{
		Threshold:     c.CustomsThreshold,
		SafeSplitUnit: c.CustomsSafeSplitUnit,
		SurnamePool:   pool,
	}
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := getEnv(key, "")
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
