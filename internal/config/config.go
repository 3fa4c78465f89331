package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable through STORE_BACKEND.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreDynamo = "dynamo"
)

// CODE_LENGTH must leave 10^n inside int64.
const maxCodeLength = 18

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	// Africa's Talking voice credentials.
	ATUsername    string
	ATAPIKey      string
	ATEnvironment string // "sandbox" | "production"
	ATVoiceURL    string // empty = derived from ATEnvironment
	CallTimeout   time.Duration

	CodeLength        int
	MaxVerifyAttempts int // 0 = unlimited guesses within the session TTL
	CleanupInterval   time.Duration
	ExposeCode        bool // return the code in the initiate response (testing only)

	StoreBackend string
	RedisURL     string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	SessionsTable  string
	SNSRegion      string
	SNSTopicARN    string // empty disables event publishing

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	AllowedOrigins    []string // CORS allowed origins
	RateLimitRPS      float64
	RateLimitBurst    int
	TrustProxyHeaders bool // key rate limits on X-Forwarded-For / X-Real-IP (only behind a trusted proxy)
}

// Load reads all configuration from environment variables.
func Load() *Config {
	appEnv := getEnv("APP_ENV", "development")
	return &Config{
		AppPort:  getEnv("APP_PORT", getEnv("PORT", "3000")),
		AppEnv:   appEnv,
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ATUsername:    getEnv("AT_USERNAME", getEnv("USERNAME", "sandbox")),
		ATAPIKey:      getEnv("AT_API_KEY", getEnv("API_KEY", "")),
		ATEnvironment: getEnv("AT_ENVIRONMENT", "sandbox"),
		ATVoiceURL:    getEnv("AT_VOICE_URL", ""),
		CallTimeout:   getEnvPositiveDuration("CALL_TIMEOUT", 10*time.Second),

		CodeLength:        getEnvIntInRange("CODE_LENGTH", 4, 1, maxCodeLength),
		MaxVerifyAttempts: getEnvIntInRange("MAX_VERIFY_ATTEMPTS", 0, 0, math.MaxInt),
		CleanupInterval:   getEnvPositiveDuration("CLEANUP_INTERVAL", 10*time.Minute),
		ExposeCode:        getEnvBool("EXPOSE_VERIFICATION_CODE", appEnv != "production"),

		StoreBackend: getEnv("STORE_BACKEND", StoreMemory),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SessionsTable:  getEnv("DYNAMO_TABLE_SESSIONS", "flash_call_sessions"),
		SNSRegion:      getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN:    getEnv("SNS_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvPositiveDuration("JWT_EXPIRY", 15*time.Minute),

		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		RateLimitRPS:      getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:    getEnvIntInRange("RATE_LIMIT_BURST", 10, 1, math.MaxInt),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvIntInRange keeps fallback for values outside [lo, hi].
func getEnvIntInRange(key string, fallback, lo, hi int) int {
	if n := getEnvInt(key, fallback); n >= lo && n <= hi {
		return n
	}
	return fallback
}

// getEnvFloat only accepts positive values.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "10m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvPositiveDuration(key string, fallback time.Duration) time.Duration {
	if d := getEnvDuration(key, fallback); d > 0 {
		return d
	}
	return fallback
}
