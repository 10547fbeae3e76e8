// Package config reads the lobby coordinator's runtime settings from the
// environment, with the defaults spec.md §6 names.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable knob the core recognizes.
type Config struct {
	CountdownDuration time.Duration
	PostGameGrace     time.Duration
	CodeLength        int
	MaxPlayers        int
	QueueETASeconds   int

	HTTPAddr string

	PostgresDSN string // empty => no Persistence backend
	RedisAddr   string // empty => EventSink falls back to LogSink only
}

// Load reads the environment, applying spec.md §6's defaults for anything unset.
func Load() Config {
	return Config{
		CountdownDuration: time.Duration(getEnvInt("COUNTDOWN_SECONDS", 3)) * time.Second,
		PostGameGrace:     time.Duration(getEnvInt("POST_GAME_GRACE_SECONDS", 2)) * time.Second,
		CodeLength:        getEnvInt("CODE_LENGTH", 4),
		MaxPlayers:        getEnvInt("MAX_PLAYERS", 2),
		QueueETASeconds:   getEnvInt("QUEUE_ETA_SECONDS", 30),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		PostgresDSN: buildPostgresDSN(),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
	}
}

func buildPostgresDSN() string {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		return dsn
	}
	user := os.Getenv("POSTGRES_USER")
	host := os.Getenv("PG_HOST")
	if user == "" || host == "" {
		return ""
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	port := getEnv("PG_PORT", "5432")
	db := getEnv("POSTGRES_DB", "lobby")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + db
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
