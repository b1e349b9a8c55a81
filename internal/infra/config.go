package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Dispatch queue; empty disables AMQP and the worker claims jobs from
	// Postgres directly.
	AMQPURL       string
	DispatchQueue string

	// Progress mirror; empty disables it.
	RedisAddr     string
	RedisPassword string

	// Blob storage. When the S3 endpoint is empty the filesystem store at
	// StoragePath is used instead.
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool
	S3PublicBase   string
	StoragePath    string
	StorageBaseURL string

	// Provider credentials. Single-key env vars are merged with the optional
	// YAML keyfile into per-provider pools.
	CredentialFile string
	WanAPIKey      string
	WanBaseURL     string
	GeminiAPIKey   string
	GeminiBaseURL  string
	GeminiModel    string
	SpeechAPIKey   string
	SpeechBaseURL  string

	WorkerConcurrency int
	AttemptTimeout    time.Duration
	RetryBudget       int
	BackoffBase       time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		AMQPURL:       os.Getenv("AMQP_URL"),
		DispatchQueue: getEnv("DISPATCH_QUEUE", "mediaforge.jobs"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Bucket:       getEnv("S3_BUCKET", "mediaforge-artifacts"),
		S3UseSSL:       getEnvBool("S3_USE_SSL", false),
		S3PublicBase:   os.Getenv("S3_PUBLIC_BASE_URL"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		CredentialFile: os.Getenv("CREDENTIAL_FILE"),
		WanAPIKey:      os.Getenv("WAN_API_KEY"),
		WanBaseURL:     getEnv("WAN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		SpeechAPIKey:   os.Getenv("SPEECH_API_KEY"),
		SpeechBaseURL:  getEnv("SPEECH_BASE_URL", "https://api.openai.com/v1"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		AttemptTimeout:    time.Second * time.Duration(getEnvInt("ATTEMPT_TIMEOUT_SECONDS", 120)),
		RetryBudget:       getEnvInt("RETRY_BUDGET", 5),
		BackoffBase:       time.Second * time.Duration(getEnvInt("BACKOFF_BASE_SECONDS", 2)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
