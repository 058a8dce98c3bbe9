package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App  AppConfig
	Sync SyncConfig
}

type AppConfig struct {
	Port        string `validate:"required"`
	Environment string `validate:"oneof=development production"`
	LogFilePath string `validate:"required"`
}

type SyncConfig struct {
	APIBaseURL   string `validate:"required,url"`
	SocketURL    string `validate:"required,url"`
	Transport    string `validate:"oneof=websocket nats"`
	NatsURL      string
	RedisURL     string
	InboundTopic string `validate:"required"`
	PreloadCount int    `validate:"min=0,max=10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	cfg := &Config{
		App: AppConfig{
			Port:        getEnv("APP_PORT", "4100"),
			Environment: getEnv("GO_ENV", "development"),
			LogFilePath: getEnv("LOG_FILE_PATH", "syncd.log"),
		},
		Sync: SyncConfig{
			APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:4000/api"),
			SocketURL:    getEnv("SOCKET_URL", "ws://localhost:4000/ws"),
			Transport:    getEnv("REALTIME_TRANSPORT", "websocket"),
			NatsURL:      getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
			InboundTopic: getEnv("INBOUND_TOPIC", "realtime.inbound"),
			PreloadCount: getEnvAsInt("PRELOAD_COUNT", 2),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
