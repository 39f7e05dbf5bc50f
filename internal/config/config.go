package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OpenAIKey       string
	TelegramToken   string
	Model           string
	TranscribeModel string
	AdminUserIDs    []int64
	AllowedUserIDs  []int64

	MaxCompletionTokens int
	HistoryLimit        int

	DBPath    string
	DBWorkers int

	ExternalTimeout time.Duration
	ExternalRetries int

	MetricsAddr string

	LogLevel  string
	LogPretty bool
}

func Load(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		log.Printf("could not read %s: %v", path, err)
	}

	cfg := Config{
		Model:               getenvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		TranscribeModel:     getenvDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		MaxCompletionTokens: getenvIntDefault("MAX_TOKENS", 1024),
		HistoryLimit:        getenvIntDefault("HISTORY_LIMIT", 10),
		DBPath:              getenvDefault("DB_PATH", "conversations.db"),
		DBWorkers:           getenvIntDefault("DB_WORKERS", 4),
		ExternalTimeout:     time.Duration(getenvIntDefault("EXTERNAL_TIMEOUT_SECONDS", 60)) * time.Second,
		ExternalRetries:     getenvIntDefault("EXTERNAL_RETRIES", 2),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		LogPretty:           getenvBoolDefault("LOG_PRETTY", false),
	}

	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.OpenAIKey == "" || cfg.TelegramToken == "" {
		return cfg, errors.New("openai api key and telegram token are required")
	}

	if cfg.DBWorkers < 1 {
		cfg.DBWorkers = 1
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}

	cfg.AdminUserIDs = parseIDs(os.Getenv("ADMIN_USER_IDS"))
	cfg.AllowedUserIDs = parseIDs(os.Getenv("ALLOWED_TELEGRAM_USER_IDS"))

	return cfg, nil
}

func parseIDs(raw string) []int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			log.Printf("skipping user id %q: %v", p, err)
			continue
		}
		ids = append(ids, v)
	}
	return ids
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid int for %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid bool for %s=%q, using default %v", key, v, def)
		return def
	}
	return b
}
