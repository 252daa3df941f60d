package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prepdeck/arena/internal/models"
)

// Config is the process configuration, assembled from the environment and an
// optional YAML file for the question set.
type Config struct {
	Port         string
	LogLevel     string
	LogPretty    bool
	AuthSecret   string
	StoreBackend string // "postgres" or "redis"
	RedisAddr    string
	NATSURL      string // empty disables the relay
	StoreTimeout time.Duration
	Questions    []models.Question
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogPretty:    getEnvAsBool("LOG_PRETTY", false),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		StoreBackend: getEnv("STORE_BACKEND", "postgres"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:      os.Getenv("NATS_URL"),
		StoreTimeout: time.Duration(getEnvAsInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond,
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET environment variable is required")
	}

	if path := os.Getenv("QUESTIONS_FILE"); path != "" {
		questions, err := loadQuestions(path)
		if err != nil {
			return nil, err
		}
		cfg.Questions = questions
	}
	return cfg, nil
}

// loadQuestions reads the interview question set from a YAML file.
func loadQuestions(path string) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read questions file: %w", err)
	}

	var file struct {
		Questions []string `yaml:"questions"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse questions file: %w", err)
	}
	if len(file.Questions) == 0 {
		return nil, fmt.Errorf("questions file %s contains no questions", path)
	}

	questions := make([]models.Question, len(file.Questions))
	for i, q := range file.Questions {
		questions[i] = models.Question{Question: q, Order: i}
	}
	return questions, nil
}
