package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	Engine         string
	PredictURL     string
	PredictTimeout time.Duration

	GeminiAPIKey string
	GeminiModel  string

	TelegramBotToken string
	WebhookURL       string

	DatabaseURL   string
	HistoryMaxAge time.Duration

	BoardIdleTTL time.Duration
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", k, err)
	}
	return d, nil
}

// Load reads the environment. Only malformed values are errors; every
// integration whose variables are absent is simply left off.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Engine:     strings.ToLower(getEnv("ENGINE", "predict")),
		PredictURL: getEnv("PREDICT_URL", "http://127.0.0.1:5000"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		DatabaseURL: resolveDSN(),
	}

	var err error
	if cfg.PredictTimeout, err = getDuration("PREDICT_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.HistoryMaxAge, err = getDuration("HISTORY_MAX_AGE", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.BoardIdleTTL, err = getDuration("BOARD_IDLE_TTL", 30*time.Minute); err != nil {
		return nil, err
	}

	switch cfg.Engine {
	case "predict":
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("ENGINE=gemini needs GEMINI_API_KEY")
		}
	default:
		return nil, fmt.Errorf("unknown ENGINE %q: use predict or gemini", cfg.Engine)
	}
	return cfg, nil
}

// resolveDSN prefers DATABASE_URL and otherwise builds a DSN from
// POSTGRES_*/PG* variables. Empty when none of them is set.
func resolveDSN() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	if os.Getenv("POSTGRES_PASSWORD") == "" && os.Getenv("PGHOST") == "" {
		return ""
	}
	user := getEnv("POSTGRES_USER", "inkboard")
	pass := os.Getenv("POSTGRES_PASSWORD")
	host := getEnv("PGHOST", "db")
	port := getEnv("PGPORT", "5432")
	db := getEnv("POSTGRES_DB", "inkboard")

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SafeDSNSummary describes a DSN without its password.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
