// Package config loads parleyd configuration from an optional YAML file,
// the environment, and a .env file. Environment variables win over the
// config file, and the file wins over defaults.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	DataDir  string `yaml:"data_dir"`
	DBPath   string `yaml:"db_path"`

	// HistoryLimit bounds how many stored turns are loaded into the live
	// conversation window when assembling a chat turn.
	HistoryLimit int `yaml:"history_limit"`

	// RecencyLimit and SemanticLimit bound how many shared-context chunks
	// each retrieval strategy may return.
	RecencyLimit  int `yaml:"recency_limit"`
	SemanticLimit int `yaml:"semantic_limit"`

	// IndexInterval is how often the background indexer drains queued
	// embedding jobs.
	IndexInterval Duration `yaml:"index_interval"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
}

// Duration wraps time.Duration so YAML configs can use values like "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// EmbeddingConfig configures the OpenAI-compatible embeddings endpoint.
// Embedding (and with it the semantic retrieval strategy) is disabled when
// APIKey is empty.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// ChatConfig configures the OpenAI-compatible chat completions endpoint.
// Chat replies are disabled when APIKey is empty.
type ChatConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

func Load() Config {
	loadDotEnv(".env")

	cfg := defaults()
	if path := getEnv("PARLEY_CONFIG", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "parley: config file %s ignored: %v\n", path, err)
		}
	}
	applyEnv(&cfg)

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "parley.db")
	}
	return cfg
}

func defaults() Config {
	return Config{
		HTTPAddr:      ":8080",
		DataDir:       "data",
		HistoryLimit:  50,
		RecencyLimit:  20,
		SemanticLimit: 10,
		IndexInterval: Duration(2 * time.Second),
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Chat: ChatConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("PARLEY_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DataDir = getEnv("PARLEY_DATA_DIR", cfg.DataDir)
	cfg.DBPath = getEnv("PARLEY_DB_PATH", cfg.DBPath)
	cfg.HistoryLimit = getEnvInt("PARLEY_HISTORY_LIMIT", cfg.HistoryLimit)
	cfg.RecencyLimit = getEnvInt("PARLEY_RECENCY_LIMIT", cfg.RecencyLimit)
	cfg.SemanticLimit = getEnvInt("PARLEY_SEMANTIC_LIMIT", cfg.SemanticLimit)
	cfg.IndexInterval = Duration(getEnvDuration("PARLEY_INDEX_INTERVAL", time.Duration(cfg.IndexInterval)))

	cfg.Embedding.BaseURL = getEnv("PARLEY_EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = getEnv("PARLEY_EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Model = getEnv("PARLEY_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = getEnvInt("PARLEY_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)

	cfg.Chat.BaseURL = getEnv("PARLEY_CHAT_BASE_URL", cfg.Chat.BaseURL)
	cfg.Chat.APIKey = getEnv("PARLEY_CHAT_API_KEY", cfg.Chat.APIKey)
	cfg.Chat.Model = getEnv("PARLEY_CHAT_MODEL", cfg.Chat.Model)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
