package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port        string
	Store       string
	DBDSN       string
	JWTSecret   string
	JWTIssuer   string
	AMQPURL     string
	Exchange    string
	OTLPAddr    string
	ServiceName string
	Environment string

	BroadcastReadReceipts bool
	SessionBuffer         int
	DebugRoutes           bool
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8083"),
		Store:       strings.ToLower(getEnv("STORE", StoreMemory)),
		DBDSN:       getEnv("DB_DSN", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),
		AMQPURL:     getEnv("AMQP_URL", ""),
		Exchange:    getEnv("AMQP_EXCHANGE", "chat.events"),
		OTLPAddr:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName: getEnv("SERVICE_NAME", "chat-realtime"),
		Environment: getEnv("ENVIRONMENT", "dev"),
	}

	var err error
	if cfg.BroadcastReadReceipts, err = getBool("BROADCAST_READ_RECEIPTS", false); err != nil {
		return Config{}, err
	}
	if cfg.DebugRoutes, err = getBool("DEBUG_ROUTES", false); err != nil {
		return Config{}, err
	}
	if cfg.SessionBuffer, err = getInt("WS_SESSION_BUFFER", 256); err != nil {
		return Config{}, err
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DBDSN == "" {
			return Config{}, errors.New("DB_DSN is required when STORE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
