package config

import (
	"errors"
	"time"

	"fretes-chat/internal/utils"
)

type Config struct {
	Env  string
	Port string

	DatabaseURL string
	AutoSchema  bool

	JWTSecret string
	TokenTTL  time.Duration

	// RedisURL is optional. When set, presence is shared through Redis and
	// conversation-touch retries go through the asynq queue.
	RedisURL          string
	PresenceTTL       time.Duration
	HeartbeatInterval time.Duration
	QueueConcurrency  int

	CORSOrigins string
	LogLevel    string
}

// Load reads .env and the process environment.
func Load() *Config {
	_ = utils.LoadEnv()

	connString := utils.GetEnv("DATABASE_URL", "")
	if connString == "" {
		// Fallback to individual vars
		connString = "postgres://" + utils.GetEnv("POSTGRES_USER", "postgres") + ":" +
			utils.GetEnv("POSTGRES_PASSWORD", "postgres") + "@" +
			utils.GetEnv("POSTGRES_HOST", "localhost") + ":" +
			utils.GetEnv("POSTGRES_PORT", "5432") + "/" +
			utils.GetEnv("POSTGRES_DB", "fretes") + "?sslmode=disable"
	}

	return &Config{
		Env:               utils.GetEnv("APP_ENV", "production"),
		Port:              utils.GetEnv("PORT", "3001"),
		DatabaseURL:       connString,
		AutoSchema:        utils.GetEnvBool("DB_AUTO_SCHEMA", true),
		JWTSecret:         utils.GetEnv("JWT_SECRET", ""),
		TokenTTL:          utils.GetEnvDuration("JWT_TTL", 72*time.Hour),
		RedisURL:          utils.GetEnv("REDIS_URL", ""),
		PresenceTTL:       utils.GetEnvDuration("PRESENCE_TTL", 90*time.Second),
		HeartbeatInterval: utils.GetEnvDuration("PRESENCE_HEARTBEAT", 30*time.Second),
		QueueConcurrency:  utils.GetEnvInt("QUEUE_CONCURRENCY", 5),
		CORSOrigins:       utils.GetEnv("CORS_ORIGINS", "*"),
		LogLevel:          utils.GetEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment is true for local runs, including the in-memory store mode.
// Both must be opted into through APP_ENV.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "memory"
}

// UseMemoryStore swaps Postgres for the in-memory repositories.
func (c *Config) UseMemoryStore() bool {
	return c.Env == "memory"
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return errors.New("JWT_SECRET must be set outside development")
		}
		utils.Logger().Warn("JWT_SECRET not set, using an insecure development secret")
		c.JWTSecret = "dev-secret"
	}
	if c.HeartbeatInterval >= c.PresenceTTL {
		return errors.New("PRESENCE_HEARTBEAT must be shorter than PRESENCE_TTL")
	}
	if c.QueueConcurrency <= 0 {
		c.QueueConcurrency = 1
	}
	return nil
}
