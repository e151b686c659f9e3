// Package config loads the listener configuration file and the
// environment variables the ingest pipeline depends on.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Listener is one entry of the YAML-shaped listener configuration.
type Listener struct {
	Port      uint16 `yaml:"port"`
	Protocol  string `yaml:"protocol"`
	Transport string `yaml:"transport"`
}

// File is the top-level shape of the listener configuration file.
type File struct {
	Listeners []Listener `yaml:"listeners"`
}

// Load reads and parses the YAML listener configuration at path. A missing
// or malformed file is a fatal configuration error.
func Load(path string) (*File, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(f.Listeners) == 0 {
		return nil, fmt.Errorf("config: %s declares no listeners", path)
	}
	return &f, nil
}

// Env is every environment variable the pipeline recognizes, resolved
// once at startup.
type Env struct {
	DatabaseURL string

	OSRMURL      string
	NominatimURL string

	RabbitMQHost       string
	RabbitMQPort       int
	RabbitMQUsername   string
	RabbitMQPassword   string
	RabbitMQExchange   string
	RabbitMQRoutingKey string

	StorePoolSize     int32
	GeofenceCachePath string
}

// LoadEnv resolves Env from the process environment, applying defaults
// where a variable is unset.
func LoadEnv() Env {
	return Env{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		OSRMURL:      os.Getenv("OSRM_URL"),
		NominatimURL: os.Getenv("NOMINATIM_URL"),

		RabbitMQHost:       os.Getenv("RABBITMQ_HOST"),
		RabbitMQPort:       envInt("RABBITMQ_PORT", 5672),
		RabbitMQUsername:   envOr("RABBITMQ_USERNAME", "guest"),
		RabbitMQPassword:   envOr("RABBITMQ_PASSWORD", "guest"),
		RabbitMQExchange:   envOr("RABBITMQ_EXCHANGE", "telemetry.raw"),
		RabbitMQRoutingKey: envOr("RABBITMQ_ROUTING_KEY", "hh"),

		StorePoolSize:     int32(envInt("DB_POOL_SIZE", 10)),
		GeofenceCachePath: envOr("GEOFENCE_CACHE_PATH", "geofences.db"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
