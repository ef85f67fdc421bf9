package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type DedupConfig struct {
	ContentPrefixLen      int `yaml:"content_prefix_len"`
	ContentWindowHours    int `yaml:"content_window_hours"`
	GlobalWindowHours     int `yaml:"global_window_hours"`
	BurstWindowMinutes    int `yaml:"burst_window_minutes"`
	BurstMax              int `yaml:"burst_max"`
	CoolingFinancialHours int `yaml:"cooling_financial_hours"`
	CoolingResultHours    int `yaml:"cooling_result_hours"`
}

type Config struct {
	DatabasePath     string        `yaml:"database_path" validate:"required"`
	TelegramToken    string        `yaml:"telegram_token"`
	OpenAIAPIKey     string        `yaml:"openai_api_key"`
	CronKey          string        `yaml:"cron_key" validate:"required"`
	ServerPort       string        `yaml:"server_port" validate:"required,numeric"`
	MonitorSchedule  string        `yaml:"monitor_schedule"`
	HoursBack        int           `yaml:"hours_back" validate:"min=1"`
	RetentionDays    int           `yaml:"retention_days" validate:"min=1"`
	EnableAIAnalysis bool          `yaml:"enable_ai_analysis"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	BSEBaseURL       string        `yaml:"bse_base_url" validate:"required,url"`
	PDFBaseURL       string        `yaml:"pdf_base_url" validate:"required,url"`
	Dedup            DedupConfig   `yaml:"dedup"`
}

// Load builds configuration from environment variables, then overlays the
// optional YAML file at path, then validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DatabasePath:     getEnv("BSE_DB_PATH", "bsewatch.db"),
		TelegramToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		CronKey:          getEnv("BSE_CRON_KEY", ""),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		MonitorSchedule:  getEnv("MONITOR_SCHEDULE", ""),
		HoursBack:        getEnvAsInt("BSE_CRON_HOURS_BACK", 1),
		RetentionDays:    getEnvAsInt("BSE_RETENTION_DAYS", 30),
		EnableAIAnalysis: getEnvAsBool("ENABLE_AI_ANALYSIS", false),
		RequestTimeout:   getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		BSEBaseURL:       getEnv("BSE_BASE_URL", "https://api.bseindia.com"),
		PDFBaseURL:       getEnv("BSE_PDF_BASE_URL", "https://www.bseindia.com/xml-data/corpfiling/AttachLive/"),
		Dedup: DedupConfig{
			ContentPrefixLen:      50,
			ContentWindowHours:    24,
			GlobalWindowHours:     6,
			BurstWindowMinutes:    5,
			BurstMax:              2,
			CoolingFinancialHours: 168,
			CoolingResultHours:    3,
		},
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
