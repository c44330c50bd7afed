package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	HTTPAddr    string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Site        SiteConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	TelemetryExchange string
	TelemetryQueue    string
	StatusBindingKey  string
	EventBindingKey   string
	CommandExchange   string
	DLQQueue          string
	PrefetchCount     int
}

// SiteConfig holds site-level settings for interpreting device clocks
type SiteConfig struct {
	// Device timestamps carry no zone information, so they are parsed in
	// this location and daily rollups are bucketed by its calendar dates.
	Timezone *time.Location
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "outlet-telemetry-worker"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			TelemetryExchange: getEnv("RABBITMQ_TELEMETRY_EXCHANGE", "outlet-telemetry.exchange"),
			TelemetryQueue:    getEnv("RABBITMQ_TELEMETRY_QUEUE", "outlet-telemetry.reports.queue"),
			StatusBindingKey:  getEnv("RABBITMQ_STATUS_BINDING_KEY", "telemetry.status.*"),
			EventBindingKey:   getEnv("RABBITMQ_EVENT_BINDING_KEY", "telemetry.event.*"),
			CommandExchange:   getEnv("RABBITMQ_COMMAND_EXCHANGE", "outlet-telemetry.commands.exchange"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "outlet-telemetry.reports.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
	}

	tzName := getEnv("SITE_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("SITE_TIMEZONE %q is not a valid timezone: %w", tzName, err)
	}
	cfg.Site.Timezone = loc

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
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
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
