package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds moviebox service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	StoreBackend string // "memory", "sqlite", or "postgres"
	SQLitePath   string
	PostgresDSN  string

	FeedBufferSize   int
	WebsocketEnabled bool

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	RequestTimeout time.Duration

	NoteMaxLength int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Store struct {
		Backend    string `yaml:"backend"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`

	Feed struct {
		BufferSize       int   `yaml:"buffer_size"`
		WebsocketEnabled *bool `yaml:"websocket_enabled"`
	} `yaml:"feed"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Validation struct {
		NoteMaxLength int `yaml:"note_max_length"`
	} `yaml:"validation"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Load reads configuration from config/moviebox/{ENV_NAME}.yaml (default dev)
// and config/secrets.yaml. The Postgres DSN comes from POSTGRES_DSN env or
// the secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", "moviebox", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8082"
	}

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Store.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	cfg.SQLitePath = strings.TrimSpace(fc.Store.SQLitePath)
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join("data", "moviebox.db")
	}
	cfg.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if cfg.PostgresDSN == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.PostgresDSN = sec.PostgresDSN
		}
	}

	cfg.FeedBufferSize = fc.Feed.BufferSize
	if cfg.FeedBufferSize <= 0 {
		cfg.FeedBufferSize = 64
	}
	cfg.WebsocketEnabled = true
	if fc.Feed.WebsocketEnabled != nil {
		cfg.WebsocketEnabled = *fc.Feed.WebsocketEnabled
	}

	cfg.KafkaEnabled = fc.Kafka.Enabled
	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	} else {
		cfg.KafkaBrokers = fc.Kafka.Brokers
	}
	cfg.KafkaTopic = strings.TrimSpace(fc.Kafka.Topic)
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "movie-events"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.NoteMaxLength = fc.Validation.NoteMaxLength
	if cfg.NoteMaxLength <= 0 {
		cfg.NoteMaxLength = 500
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validate performs post-load validation: the backend must be one we can
// build, postgres needs a DSN, and Kafka needs brokers when enabled.
func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case "memory", "sqlite", "postgres":
		// valid
	default:
		return fmt.Errorf("store.backend must be memory, sqlite, or postgres, got %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "postgres" && cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN required for postgres backend (set env or config/secrets.yaml postgres_dsn)")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka.enabled (set kafka.brokers or KAFKA_BROKERS)")
	}
	return nil
}
