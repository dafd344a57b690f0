// Package config loads agent configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"league-platform/internal/models"

	"github.com/joho/godotenv"
)

// DBConfig selects the repository backend. Driver is "sqlite" or "mysql";
// sqlite keeps everything in a local file (or memory) which is the default
// for demos and tests.
type DBConfig struct {
	Driver   string
	Path     string // sqlite file
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// Config holds everything the three binaries read from the environment.
type Config struct {
	LeagueID string

	// League rules
	MinPlayers int
	Points     models.PointsConfig
	BestOfK    int
	GameType   string

	// Deadlines
	MoveDeadline time.Duration

	// Tokens
	AuthTokenBytes int

	// Serving
	ServerPort      string
	ManagerEndpoint string
	ContactEndpoint string // this agent's own advertised URL
	DisplayName     string

	// Referee
	MaxConcurrentMatches int

	// Player
	StrategyName string

	// Manager extras
	AutoRun bool

	DBConfig  DBConfig
	RedisAddr string

	Environment string
}

// Load reads configuration from the environment, with a .env file if one
// exists.
func Load() (Config, error) {
	godotenv.Load()

	cfg := Config{
		LeagueID:   getEnv("LEAGUE_ID", "league-local"),
		MinPlayers: getEnvInt("LEAGUE_MIN_PLAYERS", 2),
		Points: models.PointsConfig{
			Win:  getEnvInt("LEAGUE_POINTS_WIN", 3),
			Draw: getEnvInt("LEAGUE_POINTS_DRAW", 1),
			Loss: 0,
		},
		BestOfK:        getEnvInt("LEAGUE_BEST_OF_K", 5),
		GameType:       getEnv("LEAGUE_GAME_TYPE", "parity"),
		MoveDeadline:   time.Duration(getEnvInt("LEAGUE_MOVE_DEADLINE_MS", 30000)) * time.Millisecond,
		AuthTokenBytes: getEnvInt("LEAGUE_AUTH_TOKEN_BYTES", 32),

		ServerPort:      getEnv("SERVER_PORT", "8000"),
		ManagerEndpoint: getEnv("LEAGUE_MANAGER_ENDPOINT", "http://localhost:8000"),
		ContactEndpoint: getEnv("CONTACT_ENDPOINT", ""),
		DisplayName:     getEnv("DISPLAY_NAME", ""),

		MaxConcurrentMatches: getEnvInt("MAX_CONCURRENT_MATCHES", 2),
		StrategyName:         getEnv("STRATEGY", "random"),

		AutoRun: getEnv("LEAGUE_AUTO_RUN", "false") == "true",

		DBConfig: DBConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "league.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "league_platform"),
		},
		RedisAddr: getEnv("REDIS_ADDR", ""),

		Environment: getEnv("ENV", "development"),
	}

	if cfg.BestOfK < 1 || cfg.BestOfK%2 == 0 {
		return cfg, fmt.Errorf("LEAGUE_BEST_OF_K must be a positive odd number, got %d", cfg.BestOfK)
	}
	if cfg.MinPlayers < 2 {
		return cfg, fmt.Errorf("LEAGUE_MIN_PLAYERS must be at least 2, got %d", cfg.MinPlayers)
	}
	if cfg.ContactEndpoint == "" {
		cfg.ContactEndpoint = "http://localhost:" + cfg.ServerPort
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
