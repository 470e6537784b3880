package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        string   `yaml:"port"`
		JWTSecret   string   `yaml:"jwtSecret"`
		TokenTTL    string   `yaml:"tokenTTL"`
		CORSOrigins []string `yaml:"corsOrigins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Attempt struct {
		ExpiryGrace string `yaml:"expiryGrace"`
	} `yaml:"attempt"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns an empty config when the file
// does not exist.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

const (
	DefaultPort          = "8080"
	DefaultStorePath     = "data/quizmaster.json"
	DefaultTokenTTL      = 12 * time.Hour
	DefaultQuizTTL       = 10 * time.Minute
	DefaultCheckpointTTL = 24 * time.Hour
	DefaultExpiryGrace   = 500 * time.Millisecond
)

// ListenPort returns the flag value when set, then server.port, then the default.
func (c Config) ListenPort(flag string) string {
	switch {
	case flag != "":
		return flag
	case c.Server.Port != "":
		return c.Server.Port
	}
	return DefaultPort
}

// JWTSecret prefers the JWT_SECRET environment variable over the file.
func (c Config) JWTSecret() string {
	if env := os.Getenv("JWT_SECRET"); env != "" {
		return env
	}
	return c.Server.JWTSecret
}

func (c Config) StorePath() string {
	if c.Store.Path == "" {
		return DefaultStorePath
	}
	return c.Store.Path
}

func (c Config) TokenTTL() time.Duration { return TTLDuration(c.Server.TokenTTL, DefaultTokenTTL) }

func (c Config) QuizTTL() time.Duration { return TTLDuration(c.Quiz.TTL, DefaultQuizTTL) }

// CheckpointTTL bounds how long an abandoned attempt stays resumable in Redis.
func (c Config) CheckpointTTL() time.Duration { return TTLDuration(c.Redis.TTL, DefaultCheckpointTTL) }

func (c Config) ExpiryGrace() time.Duration {
	return TTLDuration(c.Attempt.ExpiryGrace, DefaultExpiryGrace)
}
