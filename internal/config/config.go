package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ReceiptCacheTTLSeconds int
	SaleTimeoutSeconds     int
	LogLevel               string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present (it never overrides real env vars).
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	receiptTTL, err := strconv.Atoi(getEnv("RECEIPT_CACHE_TTL_SECONDS", "3600"))
	if err != nil || receiptTTL < 1 {
		receiptTTL = 3600
	}
	saleTimeout, err := strconv.Atoi(getEnv("SALE_TIMEOUT_SECONDS", "15"))
	if err != nil || saleTimeout < 1 {
		saleTimeout = 15
	}

	return Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		ReceiptCacheTTLSeconds: receiptTTL,
		SaleTimeoutSeconds:     saleTimeout,
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
