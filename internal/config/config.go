package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ (observability events); empty URL disables publishing
	RabbitURL   string
	RabbitQueue string

	// upstream AnythingLLM workspace API
	APIBaseURL     string
	APIKey         string
	WorkspaceSlug  string
	RequestTimeout time.Duration

	RateLimit  int
	RateWindow time.Duration

	CacheEnabled bool
	CacheTTL     time.Duration

	LogsEnabled   bool
	RetentionDays int

	StatsEnabled bool

	ConsentRequired bool
	ConsentDays     int

	MaxMessageChars int

	UploadEnabled    bool
	MaxFileSizeMB    int
	AllowedFileTypes []string

	FallbackMessage    string
	DefaultImagePrompt string

	// Secret signs consent tokens and widget nonces and salts IP hashes.
	Secret string

	AdminToken string
}

func Load() Config {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "app:apppass@tcp(127.0.0.1:3306)/chatgate?charset=utf8mb4&parseTime=true&loc=Local"
	}

	secret := os.Getenv("CHATGATE_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	fallback := os.Getenv("FALLBACK_MESSAGE")
	if fallback == "" {
		fallback = "Sorry, the assistant is unavailable right now. Please try again in a moment."
	}

	imagePrompt := os.Getenv("DEFAULT_IMAGE_PROMPT")
	if imagePrompt == "" {
		imagePrompt = "What do you see in this image?"
	}

	fileTypes := strings.Split(envString("ALLOWED_FILE_TYPES", "jpg,jpeg,png,gif,pdf,doc,docx,txt"), ",")
	for i := range fileTypes {
		fileTypes[i] = strings.ToLower(strings.TrimSpace(fileTypes[i]))
	}

	return Config{
		HTTPAddr: envString("HTTP_ADDR", ":8080"),

		DBDSN: dsn,

		RedisAddr:     envString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: envString("RABBIT_QUEUE", "chatgate_events"),

		APIBaseURL:     os.Getenv("ANYTHINGLLM_URL"),
		APIKey:         os.Getenv("ANYTHINGLLM_API_KEY"),
		WorkspaceSlug:  os.Getenv("ANYTHINGLLM_WORKSPACE"),
		RequestTimeout: time.Duration(envInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,

		RateLimit:  envInt("RATE_LIMIT", 30),
		RateWindow: time.Duration(envInt("RATE_WINDOW_SECONDS", 60)) * time.Second,

		CacheEnabled: envBool("ENABLE_CACHE", true),
		CacheTTL:     time.Duration(envInt("CACHE_TTL_SECONDS", 3600)) * time.Second,

		LogsEnabled:   envBool("ENABLE_LOGS", true),
		RetentionDays: envInt("RETENTION_DAYS", 30),

		StatsEnabled: envBool("ENABLE_STATS", true),

		ConsentRequired: envBool("CONSENT_REQUIRED", true),
		ConsentDays:     envInt("CONSENT_DAYS", 30),

		MaxMessageChars: envInt("MAX_MESSAGE_CHARS", 5000),

		UploadEnabled:    envBool("ENABLE_FILE_UPLOAD", true),
		MaxFileSizeMB:    envInt("MAX_FILE_SIZE_MB", 5),
		AllowedFileTypes: fileTypes,

		FallbackMessage:    fallback,
		DefaultImagePrompt: imagePrompt,

		Secret:     secret,
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// envBool parses common truthy/falsy spellings; anything unparseable keeps
// the default so a broken value never silently flips a privacy gate.
func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
