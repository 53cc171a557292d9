package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	EventsChannel         string
	StoreID               string
	RegisterID            string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	TerminalManualMode    bool
	TerminalURL           string
	TerminalDevice        string
	TerminalTimeout       time.Duration
	HighSalesThreshold    decimal.Decimal
	ReceiptNodeID         int64
	LogLevel              string
	AppEnv                string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	terminalTimeout, err := strconv.Atoi(getEnv("TERMINAL_TIMEOUT_SECONDS", "60"))
	if err != nil || terminalTimeout < 1 {
		terminalTimeout = 60
	}
	manual, err := strconv.ParseBool(getEnv("TERMINAL_MANUAL_MODE", "true"))
	if err != nil {
		manual = true
	}
	threshold, err := decimal.NewFromString(getEnv("HIGH_SALES_THRESHOLD", "10000"))
	if err != nil || threshold.IsNegative() {
		threshold = decimal.NewFromInt(10000)
	}
	nodeID, err := strconv.ParseInt(getEnv("RECEIPT_NODE_ID", "1"), 10, 64)
	if err != nil || nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		EventsChannel:         getEnv("EVENTS_CHANNEL", "kasa.events"),
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		RegisterID:            getEnv("REGISTER_ID", "register-1"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		TerminalManualMode:    manual,
		TerminalURL:           strings.TrimSpace(os.Getenv("TERMINAL_URL")),
		TerminalDevice:        getEnv("TERMINAL_DEVICE", "default"),
		TerminalTimeout:       time.Duration(terminalTimeout) * time.Second,
		HighSalesThreshold:    threshold,
		ReceiptNodeID:         nodeID,
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AppEnv:                strings.ToLower(getEnv("APP_ENV", "production")),
	}

	if cfg.TerminalURL == "" {
		cfg.TerminalManualMode = true
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Development() bool {
	return c.AppEnv == "development"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
